package labels

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"onchainScreener/internal/model"
	"onchainScreener/internal/storage/postgres"
)

// DBSource reads labels, multisig wallets and blacklists from Postgres.
type DBSource struct {
	Store *postgres.Store
}

func (s *DBSource) Load(ctx context.Context) (Data, error) {
	if s == nil || s.Store == nil {
		return Data{}, fmt.Errorf("postgres store is nil")
	}

	labels, err := s.Store.LoadAddressLabels(ctx)
	if err != nil {
		return Data{}, fmt.Errorf("address labels: %w", err)
	}
	multisig, err := s.Store.LoadMultisig(ctx)
	if err != nil {
		return Data{}, fmt.Errorf("multisig addresses: %w", err)
	}
	rows, err := s.Store.LoadSignatures(ctx)
	if err != nil {
		return Data{}, fmt.Errorf("blacklist signatures: %w", err)
	}

	pairs := make(map[model.EventKind]map[string]string)
	for _, row := range rows {
		kind, err := model.ParseEventKind(row.EventType)
		if err != nil {
			return Data{}, err
		}
		if pairs[kind] == nil {
			pairs[kind] = make(map[string]string)
		}
		pairs[kind][row.Topic0] = row.Name
	}

	signatures := make(map[model.EventKind]map[common.Hash]string, len(pairs))
	for kind, entries := range pairs {
		sigs, err := ParseSignatures(entries)
		if err != nil {
			return Data{}, fmt.Errorf("%s blacklist: %w", kind, err)
		}
		signatures[kind] = sigs
	}

	return Data{Labels: labels, Multisig: multisig, Signatures: signatures}, nil
}
