package rules

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"onchainScreener/internal/model"
)

// Table indexes custom rules by chain, token and kind. Chain keys are upper case.
type Table map[string]map[common.Address]map[model.EventKind]model.CustomRule

// Count returns the number of rules in the table.
func (t Table) Count() int {
	n := 0
	for _, tokens := range t {
		for _, kinds := range tokens {
			n += len(kinds)
		}
	}
	return n
}

func (t Table) add(rule model.CustomRule) {
	chain := normalizeChain(rule.Chain)
	tokens, ok := t[chain]
	if !ok {
		tokens = make(map[common.Address]map[model.EventKind]model.CustomRule)
		t[chain] = tokens
	}
	kinds, ok := tokens[rule.Token]
	if !ok {
		kinds = make(map[model.EventKind]model.CustomRule)
		tokens[rule.Token] = kinds
	}
	kinds[rule.Kind] = rule
}

// Source loads the full rule table.
type Source interface {
	Load(ctx context.Context) (Table, error)
}

// Store holds the current rule table. The core only reads it; Reload swaps it whole.
type Store struct {
	source  Source
	logger  *zap.Logger
	current atomic.Pointer[Table]
}

func NewStore(source Source, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{source: source, logger: logger}
	empty := Table{}
	s.current.Store(&empty)
	return s
}

// Reload re-reads the source. On error the previous table stays in place.
func (s *Store) Reload(ctx context.Context) error {
	if s.source == nil {
		return fmt.Errorf("rule source is nil")
	}
	table, err := s.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	if table == nil {
		table = Table{}
	}
	s.current.Store(&table)
	s.logger.Info("custom rules reloaded", zap.Int("rules", table.Count()), zap.Int("chains", len(table)))
	return nil
}

// Rule returns the custom rule for (chain, token, kind).
func (s *Store) Rule(chain string, token common.Address, kind model.EventKind) (model.CustomRule, bool) {
	table := *s.current.Load()
	rule, ok := table[normalizeChain(chain)][token][kind]
	return rule, ok
}

// Tokens returns every token with at least one rule on the chain.
func (s *Store) Tokens(chain string) []common.Address {
	table := *s.current.Load()
	tokens := table[normalizeChain(chain)]
	out := make([]common.Address, 0, len(tokens))
	for token := range tokens {
		out = append(out, token)
	}
	return out
}

// Count returns the number of loaded rules.
func (s *Store) Count() int {
	return s.current.Load().Count()
}

func normalizeChain(chain string) string {
	return strings.ToUpper(strings.TrimSpace(chain))
}
