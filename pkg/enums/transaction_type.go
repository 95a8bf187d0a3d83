package enums

import "fmt"

// TransactionType records why a payment was attempted.
type TransactionType string

const (
	TransactionTypeNewSubscription TransactionType = "new_subscription"
	TransactionTypeRenewal         TransactionType = "renewal"
	TransactionTypeUpgrade         TransactionType = "upgrade"
	TransactionTypeDowngrade       TransactionType = "downgrade"
	TransactionTypeProration       TransactionType = "proration"
)

var validTransactionTypes = []TransactionType{
	TransactionTypeNewSubscription,
	TransactionTypeRenewal,
	TransactionTypeUpgrade,
	TransactionTypeDowngrade,
	TransactionTypeProration,
}

// String implements fmt.Stringer.
func (t TransactionType) String() string {
	return string(t)
}

// IsValid reports whether the value is known.
func (t TransactionType) IsValid() bool {
	for _, candidate := range validTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTransactionType converts raw input into a TransactionType.
func ParseTransactionType(value string) (TransactionType, error) {
	for _, candidate := range validTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction type %q", value)
}
