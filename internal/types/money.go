// README: Common money value object used across modules.
package types

// Money is an amount in minor units (cents) with its ISO currency code.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// DefaultCurrency is applied when a catalog price carries no currency.
const DefaultCurrency = "USD"

// Mul returns m multiplied by a whole quantity.
func (m Money) Mul(qty int) Money {
	return Money{Amount: m.Amount * int64(qty), Currency: m.Currency}
}

// Add sums two amounts. The receiver's currency wins when other has none.
func (m Money) Add(other Money) Money {
	cur := m.Currency
	if cur == "" {
		cur = other.Currency
	}
	return Money{Amount: m.Amount + other.Amount, Currency: cur}
}
