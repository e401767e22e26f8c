package reconstruct

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"onchainScreener/internal/model"
)

// Reconstruct builds the per token aggregates of one transaction's logs.
//
// Transfers are netted: every address keeps a running balance (outflow subtracts,
// inflow adds) and the transfer total is the sum of the positive final balances, so
// A->B->C collapses to what reached C and round trips cancel out. Burns also draw
// down the burner's running balance. Mint and burn totals are plain sums. Every kind
// keeps its unnetted legs.
func Reconstruct(logs []types.Log) model.TxEvents {
	ordered := make([]types.Log, len(logs))
	copy(ordered, logs)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	out := make(model.TxEvents)
	balances := make(map[common.Address]map[common.Address]*big.Int)

	for _, log := range ordered {
		event, ok := Decode(log)
		if !ok {
			continue
		}

		tokenEvents, ok := out[event.Token]
		if !ok {
			tokenEvents = make(model.TokenEvents)
			out[event.Token] = tokenEvents
		}
		agg, ok := tokenEvents[event.Kind]
		if !ok {
			agg = &model.KindAggregate{Total: new(big.Int)}
			tokenEvents[event.Kind] = agg
		}
		agg.Legs = append(agg.Legs, model.Leg{
			From:   event.From,
			To:     event.To,
			Amount: new(big.Int).Set(event.Amount),
		})

		switch event.Kind {
		case model.KindTransfer:
			ledger := tokenLedger(balances, event.Token)
			adjust(ledger, event.From, new(big.Int).Neg(event.Amount))
			adjust(ledger, event.To, event.Amount)
		case model.KindBurn:
			agg.Total.Add(agg.Total, event.Amount)
			if ledger, ok := balances[event.Token]; ok {
				if _, seen := ledger[event.From]; seen {
					adjust(ledger, event.From, new(big.Int).Neg(event.Amount))
				}
			}
		case model.KindMint:
			agg.Total.Add(agg.Total, event.Amount)
		}
	}

	for token, ledger := range balances {
		agg := out[token][model.KindTransfer]
		if agg == nil {
			continue
		}
		agg.Total = positiveSum(ledger)
	}

	return out
}

func tokenLedger(balances map[common.Address]map[common.Address]*big.Int, token common.Address) map[common.Address]*big.Int {
	ledger, ok := balances[token]
	if !ok {
		ledger = make(map[common.Address]*big.Int)
		balances[token] = ledger
	}
	return ledger
}

func adjust(ledger map[common.Address]*big.Int, addr common.Address, delta *big.Int) {
	balance, ok := ledger[addr]
	if !ok {
		balance = new(big.Int)
		ledger[addr] = balance
	}
	balance.Add(balance, delta)
}

func positiveSum(ledger map[common.Address]*big.Int) *big.Int {
	total := new(big.Int)
	for _, balance := range ledger {
		if balance.Sign() > 0 {
			total.Add(total, balance)
		}
	}
	return total
}
