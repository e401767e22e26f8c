package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"onchainScreener/internal/model"
)

// Catalog maps chain (upper case) to token metadata.
type Catalog map[string]map[common.Address]model.TokenData

// Source loads the token catalog.
type Source interface {
	Load(ctx context.Context) (Catalog, error)
}

// Store serves token metadata maintained by an external scraper. Absent or stale
// entries are tolerated by callers; Reload swaps the catalog whole.
type Store struct {
	source  Source
	logger  *zap.Logger
	current atomic.Pointer[Catalog]
}

func NewStore(source Source, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{source: source, logger: logger}
	empty := Catalog{}
	s.current.Store(&empty)
	return s
}

// Reload re-reads the source, keeping the previous catalog on error.
func (s *Store) Reload(ctx context.Context) error {
	if s.source == nil {
		return fmt.Errorf("token source is nil")
	}
	catalog, err := s.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("load token data: %w", err)
	}
	if catalog == nil {
		catalog = Catalog{}
	}
	s.current.Store(&catalog)

	fields := make([]zap.Field, 0, len(catalog))
	for chain, tokens := range catalog {
		fields = append(fields, zap.Int(strings.ToLower(chain), len(tokens)))
	}
	s.logger.Info("token data reloaded", fields...)
	return nil
}

// Token returns the metadata of one token.
func (s *Store) Token(chain string, token common.Address) (model.TokenData, bool) {
	catalog := *s.current.Load()
	data, ok := catalog[strings.ToUpper(chain)][token]
	return data, ok
}

// Tokens returns every token known on the chain.
func (s *Store) Tokens(chain string) []common.Address {
	catalog := *s.current.Load()
	tokens := catalog[strings.ToUpper(chain)]
	out := make([]common.Address, 0, len(tokens))
	for token := range tokens {
		out = append(out, token)
	}
	return out
}

// FileSource reads token_data.json written by the scraper. Both the timestamped form
// [ts, {CHAIN: {addr: data}}] and the bare {CHAIN: {addr: data}} object are accepted.
type FileSource struct {
	Path string
}

func (f FileSource) Load(_ context.Context) (Catalog, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return Catalog{}, nil
		}
		return nil, fmt.Errorf("read token data: %w", err)
	}
	return Parse(data)
}

// Parse decodes a token data document.
func Parse(data []byte) (Catalog, error) {
	body := data
	var wrapped []json.RawMessage
	if err := json.Unmarshal(data, &wrapped); err == nil {
		if len(wrapped) != 2 {
			return nil, fmt.Errorf("token data: expected [timestamp, data], got %d items", len(wrapped))
		}
		body = wrapped[1]
	}

	var doc map[string]map[string]model.TokenData
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse token data: %w", err)
	}

	catalog := make(Catalog, len(doc))
	for chain, entries := range doc {
		tokens := make(map[common.Address]model.TokenData, len(entries))
		for addr, entry := range entries {
			if !common.IsHexAddress(addr) {
				continue
			}
			tokens[common.HexToAddress(addr)] = entry
		}
		catalog[strings.ToUpper(chain)] = tokens
	}
	return catalog, nil
}
