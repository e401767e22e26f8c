package labels

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"onchainScreener/internal/model"
)

// Data is one complete label snapshot. Address keys are lowercase hex.
type Data struct {
	Labels     map[string]string
	Multisig   map[string]struct{}
	Signatures map[model.EventKind]map[common.Hash]string
}

// Source loads the backing label data.
type Source interface {
	Load(ctx context.Context) (Data, error)
}

// Store serves address labels, the multisig set and per-kind signature blacklists.
// Reload swaps the whole snapshot, so a reader sees either the old or the new data.
type Store struct {
	source  Source
	matcher Matcher
	logger  *zap.Logger
	current atomic.Pointer[Data]
}

// NewStore builds an empty store. Call Reload to populate it.
func NewStore(source Source, matcher Matcher, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if matcher == nil {
		matcher = FirstWordMatcher{}
	}
	s := &Store{source: source, matcher: matcher, logger: logger}
	s.current.Store(&Data{})
	return s
}

// Reload re-reads the source and swaps the snapshot. On error the previous snapshot stays.
func (s *Store) Reload(ctx context.Context) error {
	if s.source == nil {
		return fmt.Errorf("label source is nil")
	}
	data, err := s.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("load labels: %w", err)
	}
	if data.Labels == nil {
		data.Labels = map[string]string{}
	}
	if data.Multisig == nil {
		data.Multisig = map[string]struct{}{}
	}
	if data.Signatures == nil {
		data.Signatures = map[model.EventKind]map[common.Hash]string{}
	}
	s.current.Store(&data)

	s.logger.Info("labels reloaded",
		zap.Int("labels", len(data.Labels)),
		zap.Int("multisig", len(data.Multisig)),
		zap.Int("signature_kinds", len(data.Signatures)),
	)
	return nil
}

func (s *Store) snapshot() *Data {
	return s.current.Load()
}

// Label resolves an address to its display name.
func (s *Store) Label(addr common.Address) (string, bool) {
	label, ok := s.snapshot().Labels[model.LowerHex(addr)]
	return label, ok && label != ""
}

// Len returns the number of labelled addresses.
func (s *Store) Len() int {
	return len(s.snapshot().Labels)
}

// IsExchangeSelfTransfer reports whether a labelled sender and a labelled receiver
// belong to the same exchange entity.
func (s *Store) IsExchangeSelfTransfer(agg *model.KindAggregate) bool {
	if agg == nil {
		return false
	}
	snap := s.snapshot()

	senders := make(map[string]struct{})
	for _, addr := range agg.FromAddresses() {
		if entity, ok := s.entity(snap, addr); ok {
			senders[entity] = struct{}{}
		}
	}
	if len(senders) == 0 {
		return false
	}
	for _, addr := range agg.ToAddresses() {
		if entity, ok := s.entity(snap, addr); ok {
			if _, same := senders[entity]; same {
				return true
			}
		}
	}
	return false
}

func (s *Store) entity(snap *Data, addr common.Address) (string, bool) {
	label := snap.Labels[model.LowerHex(addr)]
	if label == "" {
		return "", false
	}
	return s.matcher.Entity(label)
}

// FilterNames returns the labelled senders and receivers of an aggregate.
func (s *Store) FilterNames(agg *model.KindAggregate) model.FilterMatches {
	snap := s.snapshot()
	matches := model.FilterMatches{From: map[string]string{}, To: map[string]string{}}
	if agg == nil {
		return matches
	}
	for _, addr := range agg.FromAddresses() {
		key := model.LowerHex(addr)
		if label := snap.Labels[key]; label != "" {
			matches.From[key] = label
		}
	}
	for _, addr := range agg.ToAddresses() {
		key := model.LowerHex(addr)
		if label := snap.Labels[key]; label != "" {
			matches.To[key] = label
		}
	}
	return matches
}

// IsMultisig reports whether the address is a known multisig wallet.
func (s *Store) IsMultisig(addr common.Address) bool {
	_, ok := s.snapshot().Multisig[model.LowerHex(addr)]
	return ok
}

// MultisigCheck flags aggregates touching multisig wallets. Any leg into a multisig
// means the event should be ignored; fromMultisig is set when a leg leaves one.
func (s *Store) MultisigCheck(agg *model.KindAggregate) (ignore bool, fromMultisig bool) {
	if agg == nil {
		return false, false
	}
	snap := s.snapshot()
	for _, leg := range agg.Legs {
		if _, ok := snap.Multisig[model.LowerHex(leg.To)]; ok {
			return true, false
		}
		if _, ok := snap.Multisig[model.LowerHex(leg.From)]; ok {
			fromMultisig = true
		}
	}
	return false, fromMultisig
}

// Blacklist returns the signature blacklist for a kind. The map must not be modified.
func (s *Store) Blacklist(kind model.EventKind) map[common.Hash]string {
	return s.snapshot().Signatures[kind]
}

// Matcher maps a label to the exchange entity it names.
type Matcher interface {
	Entity(label string) (string, bool)
}

// FirstWordMatcher treats the first word of a label as the entity,
// so "Binance 14" and "Binance Hot Wallet" are the same exchange.
type FirstWordMatcher struct{}

func (FirstWordMatcher) Entity(label string) (string, bool) {
	fields := strings.Fields(label)
	if len(fields) == 0 {
		return "", false
	}
	return strings.ToLower(fields[0]), true
}

// SubstringMatcher resolves a label to the first configured exchange name it contains.
// Labels that name no configured exchange have no entity.
type SubstringMatcher struct {
	Exchanges []string
}

func (m SubstringMatcher) Entity(label string) (string, bool) {
	lower := strings.ToLower(label)
	for _, name := range m.Exchanges {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" && strings.Contains(lower, name) {
			return name, true
		}
	}
	return "", false
}

// NewMatcher returns the matcher for a strategy name.
func NewMatcher(strategy string, exchanges []string) (Matcher, error) {
	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case "", "first-word":
		return FirstWordMatcher{}, nil
	case "substring":
		if len(exchanges) == 0 {
			return nil, fmt.Errorf("substring exchange matching requires exchange names")
		}
		return SubstringMatcher{Exchanges: exchanges}, nil
	default:
		return nil, fmt.Errorf("unknown exchange match strategy: %s", strategy)
	}
}
