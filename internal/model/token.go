package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// TokenData is the externally maintained metadata of one token.
// Supplies are expressed in whole tokens.
type TokenData struct {
	Ticker            string          `json:"ticker"`
	Chain             string          `json:"chain,omitempty"`
	Decimals          *uint8          `json:"decimals"`
	CirculatingSupply decimal.Decimal `json:"circulating_supply"`
	TotalSupply       decimal.Decimal `json:"total_supply"`
}

// UnmarshalJSON accepts both total_supply and the shorter supply key used by rule snapshots.
func (t *TokenData) UnmarshalJSON(data []byte) error {
	type alias TokenData
	var raw struct {
		alias
		Supply decimal.Decimal `json:"supply"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = TokenData(raw.alias)
	if t.TotalSupply.IsZero() {
		t.TotalSupply = raw.Supply
	}
	return nil
}

// SupplyDenominator returns the circulating supply, or the total supply when circulating is zero.
func (t TokenData) SupplyDenominator() decimal.Decimal {
	if t.CirculatingSupply.IsZero() {
		return t.TotalSupply
	}
	return t.CirculatingSupply
}

// TokenMeta captures ERC-20 metadata read from chain.
type TokenMeta struct {
	Address     string `json:"address"`
	Decimals    uint8  `json:"decimals"`
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	TotalSupply string `json:"total_supply"`
}

// Direction is the trade direction attached to a signal.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// CustomRule replaces standard filtering for one (chain, token, kind).
type CustomRule struct {
	Chain         string
	Token         common.Address
	Kind          EventKind
	Direction     Direction
	EventName     string
	From          []common.Address
	To            []common.Address
	SupplyPercent float64
	TokenData     TokenData
}

var defaultDirections = map[EventKind]Direction{
	KindTransfer: Short,
	KindMint:     Short,
	KindBurn:     Long,
}

// DefaultDirection returns the trade direction implied by an event kind.
func DefaultDirection(kind EventKind) Direction {
	return defaultDirections[kind]
}

// ParseDirection validates a direction name.
func ParseDirection(input string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(input))); d {
	case Long, Short:
		return d, nil
	default:
		return "", fmt.Errorf("unknown direction: %q", input)
	}
}
