package config

import "fmt"

// PaymentMethod identifies how a payment is funded.
type PaymentMethod string

const (
	MethodCard         PaymentMethod = "CARD"
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	MethodPoint        PaymentMethod = "POINT"
)

// methodTable maps persisted method IDs to methods. IDs are part of the
// stored data format and must never be renumbered.
var methodTable = map[int64]PaymentMethod{
	1: MethodCard,
	2: MethodBankTransfer,
	3: MethodPoint,
}

// MethodFromID resolves a persisted method ID.
func MethodFromID(id int64) (PaymentMethod, error) {
	method, ok := methodTable[id]
	if !ok {
		return "", fmt.Errorf("unknown payment method id %d", id)
	}
	return method, nil
}

// MethodID resolves the persisted ID for a method.
func MethodID(method PaymentMethod) (int64, error) {
	for id, m := range methodTable {
		if m == method {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown payment method %q", method)
}

// ValidateMethodTable asserts the mapping is bijective at startup so an
// invalid ID surfaces as a configuration error rather than a runtime panic.
func ValidateMethodTable() error {
	seen := make(map[PaymentMethod]int64, len(methodTable))
	for id, method := range methodTable {
		if id <= 0 {
			return fmt.Errorf("payment method %q has non-positive id %d", method, id)
		}
		if prev, dup := seen[method]; dup {
			return fmt.Errorf("payment method %q mapped to both %d and %d", method, prev, id)
		}
		seen[method] = id
	}
	return nil
}
