package query

// BalanceResponse is one holder balance.
type BalanceResponse struct {
	Owner  string `json:"owner"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`

	// Claim on collateral at the current price. Set for outcome tokens only.
	Value string `json:"value,omitempty"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// AccountResponse gathers everything the market holds for one address.
type AccountResponse struct {
	Owner        string            `json:"owner"`
	Balances     []BalanceResponse `json:"balances"`
	Orders       []OrderResponse   `json:"orders"`
	AsOfSequence int64             `json:"as_of_sequence"`
}
