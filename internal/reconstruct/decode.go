package reconstruct

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"onchainScreener/internal/erc20"
	"onchainScreener/internal/model"
)

var (
	// ZeroAddress is the mint source and a burn sink.
	ZeroAddress = common.Address{}
	// DeadAddress is the conventional burn sink.
	DeadAddress = common.HexToAddress("0x000000000000000000000000000000000000dEaD")
)

// Classify returns the kind of a movement. A movement from the zero address into a
// burn sink is a burn.
func Classify(from, to common.Address) model.EventKind {
	if to == ZeroAddress || to == DeadAddress {
		return model.KindBurn
	}
	if from == ZeroAddress {
		return model.KindMint
	}
	return model.KindTransfer
}

// Decode turns an ERC-20 Transfer log into a TransferEvent. Anything that is not a
// well formed fungible Transfer (wrong topic, ERC-721 style indexed id, empty or
// oversized data) is rejected.
func Decode(log types.Log) (model.TransferEvent, bool) {
	if len(log.Topics) != 3 || log.Topics[0] != erc20.TransferTopic {
		return model.TransferEvent{}, false
	}
	if len(log.Data) == 0 || len(log.Data) > common.HashLength {
		return model.TransferEvent{}, false
	}

	from := common.BytesToAddress(log.Topics[1].Bytes())
	to := common.BytesToAddress(log.Topics[2].Bytes())

	return model.TransferEvent{
		Token:    log.Address,
		From:     from,
		To:       to,
		Amount:   new(big.Int).SetBytes(log.Data),
		Kind:     Classify(from, to),
		LogIndex: log.Index,
	}, true
}
