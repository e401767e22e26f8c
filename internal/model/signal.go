package model

import "time"

// Event type names emitted outside the transfer/mint/burn kinds.
const (
	EventUSDBasedTransfer = "usd_based_transfer"
	EventWatchedWallet    = "hidden_binance_alpha"
)

// FilterMatches lists the labelled participants of a signal.
type FilterMatches struct {
	From map[string]string `json:"from"`
	To   map[string]string `json:"to"`
}

// Empty reports whether no participant carries a label.
func (m FilterMatches) Empty() bool {
	return len(m.From) == 0 && len(m.To) == 0
}

// Signal is an actionable detection.
type Signal struct {
	Direction     Direction      `json:"direction"`
	Ticker        string         `json:"ticker"`
	Contract      string         `json:"contract"`
	EventType     string         `json:"event_type"`
	SupplyPercent float64        `json:"supply_percent"`
	USDAmount     float64        `json:"usd_amount,omitempty"`
	TokenAmount   float64        `json:"token_amount,omitempty"`
	AutoOpen      bool           `json:"auto_open"`
	MessageTier   string         `json:"message_tier"`
	Chain         string         `json:"chain,omitempty"`
	TxHash        string         `json:"tx_hash,omitempty"`
	FromAddresses []string       `json:"from_addresses"`
	ToAddresses   []string       `json:"to_addresses"`
	FilterMatches *FilterMatches `json:"filter_matches,omitempty"`
	FromMultisig  bool           `json:"from_multisig,omitempty"`
	WalletAddress string         `json:"wallet_address,omitempty"`
	WalletIndex   int            `json:"wallet_index,omitempty"`
	PriceCheck    *PriceCheck    `json:"price_check,omitempty"`
	DetectedAt    time.Time      `json:"detected_at"`
}

// RelayMessage is the control-plane frame carrying auto-open signals.
type RelayMessage struct {
	ServiceType string   `json:"service_type"`
	Signals     []Signal `json:"signals"`
}
