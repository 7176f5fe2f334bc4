package api

// Request and response shapes for the REST endpoints.

// TradeRequest asks the submission path to open a position. Symbol is
// optional; when empty the server picks the strike whose premium is
// closest to the configured target.
type TradeRequest struct {
	Symbol string `json:"symbol"`
}

// TradeResponse echoes the accepted intent.
type TradeResponse struct {
	Message     string  `json:"message"`
	Status      string  `json:"status"`
	Symbol      string  `json:"symbol"`
	EntryID     string  `json:"entry_id"`
	Price       float64 `json:"price"`
	ExitPrice   float64 `json:"exit_price"`
	TargetPrice float64 `json:"target_price"`
}

// OrderInfo is the wire view of a broker order.
type OrderInfo struct {
	ID           string  `json:"order_id"`
	Symbol       string  `json:"symbol"`
	Exchange     string  `json:"exchange"`
	Side         string  `json:"side"`
	Type         string  `json:"type"`
	Quantity     int     `json:"quantity"`
	Price        float64 `json:"price"`
	TriggerPrice float64 `json:"trigger_price,omitempty"`
	AveragePrice float64 `json:"average_price,omitempty"`
	Status       string  `json:"status"`
	Rejection    string  `json:"rejection,omitempty"`
	Tag          string  `json:"tag,omitempty"`
}

// PositionInfo is the wire view of a broker position.
type PositionInfo struct {
	Symbol        string  `json:"symbol"`
	Exchange      string  `json:"exchange"`
	Quantity      int     `json:"quantity"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// PositionsResponse wraps the position book with its mark-to-market.
type PositionsResponse struct {
	Positions []PositionInfo `json:"positions"`
	MTM       float64        `json:"mtm"`
}

type errorResponse struct {
	Error string `json:"error"`
}
