package cfgutil

import (
	"github.com/electra-project/ecawallet/pricefeed"
)

// CurrencyFlag holds a normalized ISO 4217 currency code and implements the
// flags.Marshaler and Unmarshaler interfaces so it can be used as a config
// struct field.
type CurrencyFlag struct {
	Code string
}

// NewCurrencyFlag creates a CurrencyFlag with a default code.  An empty code
// selects pricefeed.DefaultCurrency.
func NewCurrencyFlag(defaultCode string) *CurrencyFlag {
	if defaultCode == "" {
		defaultCode = pricefeed.DefaultCurrency
	}
	return &CurrencyFlag{Code: defaultCode}
}

// MarshalFlag satisfies the flags.Marshaler interface.
func (c *CurrencyFlag) MarshalFlag() (string, error) {
	return c.Code, nil
}

// UnmarshalFlag satisfies the flags.Unmarshaler interface.
func (c *CurrencyFlag) UnmarshalFlag(value string) error {
	code, err := pricefeed.NormalizeCurrency(value)
	if err != nil {
		return err
	}
	c.Code = code
	return nil
}
