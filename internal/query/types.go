package query

// Amounts and prices are decimal strings. Every response carries the
// projection watermark it was read at.

// PoolResponse is the projected pool state.
type PoolResponse struct {
	Pool               string  `json:"pool"`
	WhitePrice         string  `json:"white_price"`
	BlackPrice         string  `json:"black_price"`
	CollateralForWhite string  `json:"collateral_for_white"`
	CollateralForBlack string  `json:"collateral_for_black"`
	WhiteBought        string  `json:"white_bought"`
	BlackBought        string  `json:"black_bought"`
	Ongoing            bool    `json:"ongoing"`
	Phase              string  `json:"phase"`
	CurrentEventID     *uint64 `json:"current_event_id,omitempty"`
	AsOfSequence       int64   `json:"as_of_sequence"`
}

// QuoteResponse is the latest price pair, served from the quote cache when
// it is available.
type QuoteResponse struct {
	Pool         string `json:"pool"`
	WhitePrice   string `json:"white_price"`
	BlackPrice   string `json:"black_price"`
	Phase        string `json:"phase"`
	EventID      uint64 `json:"event_id,omitempty"`
	AsOfSequence int64  `json:"as_of_sequence"`
	Source       string `json:"source"` // "cache" or "projection"
}

type OrderResponse struct {
	OrderID      uint64 `json:"order_id"`
	Owner        string `json:"owner"`
	Amount       string `json:"amount"`
	IsWhite      bool   `json:"is_white"`
	EventID      uint64 `json:"event_id"`
	Canceled     bool   `json:"canceled"`
	Played       bool   `json:"played"`
	Withdrawn    bool   `json:"withdrawn"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

type EventResponse struct {
	EventID      uint64 `json:"event_id"`
	Oracle       string `json:"oracle"`
	WhiteTeam    string `json:"white_team"`
	BlackTeam    string `json:"black_team"`
	Category     string `json:"category"`
	EventSeries  string `json:"event_series"`
	StartTime    int64  `json:"start_time"`
	EndTime      int64  `json:"end_time"`
	State        string `json:"state"`
	Result       *int8  `json:"result,omitempty"`
	WhitePayout  string `json:"white_payout,omitempty"`
	BlackPayout  string `json:"black_payout,omitempty"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// TradeResponse is one pool trade from the in-memory history.
type TradeResponse struct {
	Sequence   int64  `json:"sequence"`
	Side       string `json:"side"`
	Buy        bool   `json:"buy"`
	Tokens     string `json:"tokens"`
	Price      string `json:"price"`
	Collateral string `json:"collateral"`
	Fee        string `json:"fee"`
	Timestamp  int64  `json:"timestamp"`
}

// JournalHistoryEntry is a token movement touching an account.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	CommandRef    string `json:"command_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Asset         string `json:"asset"`
	Amount        string `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
	InsolventSides   []string          `json:"insolvent_sides,omitempty"`
}

// UnbalancedAsset is an asset whose projected holder balances differ from
// its net issuance in the journal.
type UnbalancedAsset struct {
	Asset    string `json:"asset"`
	Holders  string `json:"holders"`
	Issuance string `json:"issuance"`
}
