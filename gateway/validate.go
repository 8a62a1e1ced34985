package gateway

import (
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// CheckTxData runs the structural validation shared by all adapters: positive
// amount, ISO 4217 currency, a resolvable reference document. Adapters call it
// from ValidateTxData before their gateway-specific checks.
func CheckTxData(tx *TxData) error {
	if tx == nil {
		return &ValidationError{Reason: "missing transaction data"}
	}
	if tx.Amount.Cmp(decimal.Zero) <= 0 {
		return &ValidationError{Reason: "amount must be positive"}
	}
	if err := validate.Struct(tx); err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	return nil
}
