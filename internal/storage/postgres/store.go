package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"onchainScreener/internal/model"
)

// Store provides Postgres persistence for signals, rules, labels and progress.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the tables used by the screener when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// PutSignals archives emitted signals.
func (s *Store) PutSignals(ctx context.Context, signals []model.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, sig := range signals {
		payload, err := json.Marshal(sig)
		if err != nil {
			return fmt.Errorf("marshal signal: %w", err)
		}
		batch.Queue(`
			INSERT INTO signals (
				chain, tx_hash, contract, event_type, ticker, direction, message_tier,
				supply_percent, usd_amount, auto_open, payload, detected_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (chain, tx_hash, contract, event_type) DO NOTHING
		`,
			sig.Chain,
			sig.TxHash,
			strings.ToLower(sig.Contract),
			sig.EventType,
			sig.Ticker,
			string(sig.Direction),
			sig.MessageTier,
			sig.SupplyPercent,
			sig.USDAmount,
			sig.AutoOpen,
			payload,
			sig.DetectedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range signals {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadAddressLabels returns lowercase address -> label.
func (s *Store) LoadAddressLabels(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT address, label FROM address_labels`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var address, label string
		if err := rows.Scan(&address, &label); err != nil {
			return nil, err
		}
		out[strings.ToLower(strings.TrimSpace(address))] = strings.TrimSpace(label)
	}
	return out, rows.Err()
}

// LoadMultisig returns the lowercase multisig address set.
func (s *Store) LoadMultisig(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT address FROM multisig_addresses`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			return nil, err
		}
		out[strings.ToLower(strings.TrimSpace(address))] = struct{}{}
	}
	return out, rows.Err()
}

// SignatureRow is one blacklisted topic0 for an event kind.
type SignatureRow struct {
	EventType string
	Topic0    string
	Name      string
}

// LoadSignatures returns every blacklisted signature.
func (s *Store) LoadSignatures(ctx context.Context) ([]SignatureRow, error) {
	rows, err := s.pool.Query(ctx, `SELECT event_type, topic0, name FROM blacklist_signatures`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SignatureRow
	for rows.Next() {
		var row SignatureRow
		if err := rows.Scan(&row.EventType, &row.Topic0, &row.Name); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// RuleRow is one stored custom rule with its frozen token snapshot.
type RuleRow struct {
	Chain     string
	Token     string
	EventType string
	Rule      []byte
	TokenData []byte
}

// LoadCustomRules returns every custom rule.
func (s *Store) LoadCustomRules(ctx context.Context) ([]RuleRow, error) {
	rows, err := s.pool.Query(ctx, `SELECT chain, token_address, event_type, rule, token_data FROM custom_rules`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RuleRow
	for rows.Next() {
		var row RuleRow
		if err := rows.Scan(&row.Chain, &row.Token, &row.EventType, &row.Rule, &row.TokenData); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// LoadState returns last_processed_block for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var block int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_block FROM screener_state WHERE name=$1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SaveState upserts last_processed_block for a name.
func (s *Store) SaveState(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO screener_state (name, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = now()
	`, name, int64(block))
	return err
}
