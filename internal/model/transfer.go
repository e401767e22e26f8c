package model

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind classifies a decoded token movement.
type EventKind string

const (
	KindTransfer EventKind = "transfer"
	KindMint     EventKind = "mint"
	KindBurn     EventKind = "burn"
)

// Kinds lists every event kind in evaluation order.
var Kinds = []EventKind{KindTransfer, KindMint, KindBurn}

// ParseEventKind validates a kind name.
func ParseEventKind(input string) (EventKind, error) {
	kind := EventKind(strings.ToLower(strings.TrimSpace(input)))
	switch kind {
	case KindTransfer, KindMint, KindBurn:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown event kind: %q", input)
	}
}

// TransferEvent is one decoded ERC-20 Transfer log.
type TransferEvent struct {
	Token    common.Address
	From     common.Address
	To       common.Address
	Amount   *big.Int
	Kind     EventKind
	LogIndex uint
}

// Leg is a single unnetted movement kept for address based filtering.
type Leg struct {
	From   common.Address
	To     common.Address
	Amount *big.Int
}

// KindAggregate is the per token, per kind result of one transaction.
type KindAggregate struct {
	Total *big.Int
	Legs  []Leg
}

// FromAddresses returns the distinct senders in leg order.
func (a *KindAggregate) FromAddresses() []common.Address {
	return a.distinct(func(leg Leg) common.Address { return leg.From })
}

// ToAddresses returns the distinct receivers in leg order.
func (a *KindAggregate) ToAddresses() []common.Address {
	return a.distinct(func(leg Leg) common.Address { return leg.To })
}

func (a *KindAggregate) distinct(pick func(Leg) common.Address) []common.Address {
	if a == nil {
		return nil
	}
	seen := make(map[common.Address]struct{}, len(a.Legs))
	out := make([]common.Address, 0, len(a.Legs))
	for _, leg := range a.Legs {
		addr := pick(leg)
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}

// TokenEvents holds the aggregates of one token keyed by kind.
type TokenEvents map[EventKind]*KindAggregate

// TxEvents holds everything reconstructed from one transaction, keyed by token.
type TxEvents map[common.Address]TokenEvents

// Empty reports whether no token produced an aggregate.
func (e TxEvents) Empty() bool {
	for _, events := range e {
		if len(events) > 0 {
			return false
		}
	}
	return true
}

// LowerHex renders an address the way labels and signals key it.
func LowerHex(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
