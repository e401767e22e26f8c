package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"onchainScreener/internal/model"
	"onchainScreener/internal/storage/postgres"
)

type ruleJSON struct {
	Direction       string   `json:"direction"`
	CustomEventName string   `json:"custom_event_name"`
	From            []string `json:"from"`
	To              []string `json:"to"`
	SupplyPercent   float64  `json:"supply_percent"`
}

type tokenRulesJSON struct {
	TokenData  model.TokenData     `json:"token_data"`
	EventRules map[string]ruleJSON `json:"event_rules"`
}

// FileSource reads custom_rules.json:
//
//	{CHAIN: {token: {token_data: {...}, event_rules: {kind: rule}}}}
//
// A missing file is an empty table. Malformed entries are skipped with a warning.
type FileSource struct {
	Path   string
	Logger *zap.Logger
}

func (f FileSource) Load(_ context.Context) (Table, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return Table{}, nil
		}
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return Parse(data, f.Logger)
}

// Parse decodes the rules document.
func Parse(data []byte, logger *zap.Logger) (Table, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var doc map[string]map[string]tokenRulesJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	table := Table{}
	for chain, tokens := range doc {
		for token, entry := range tokens {
			for kindName, raw := range entry.EventRules {
				rule, err := buildRule(chain, token, kindName, raw, entry.TokenData)
				if err != nil {
					logger.Warn("skip custom rule", zap.String("chain", chain), zap.String("token", token),
						zap.String("event_type", kindName), zap.Error(err))
					continue
				}
				table.add(rule)
			}
		}
	}
	return table, nil
}

func buildRule(chain, token, kindName string, raw ruleJSON, tokenData model.TokenData) (model.CustomRule, error) {
	if !common.IsHexAddress(token) {
		return model.CustomRule{}, fmt.Errorf("invalid token address: %s", token)
	}
	kind, err := model.ParseEventKind(kindName)
	if err != nil {
		return model.CustomRule{}, err
	}

	direction := model.DefaultDirection(kind)
	if raw.Direction != "" {
		if direction, err = model.ParseDirection(raw.Direction); err != nil {
			return model.CustomRule{}, err
		}
	}

	from, err := parseAddresses(raw.From)
	if err != nil {
		return model.CustomRule{}, fmt.Errorf("from filter: %w", err)
	}
	to, err := parseAddresses(raw.To)
	if err != nil {
		return model.CustomRule{}, fmt.Errorf("to filter: %w", err)
	}

	return model.CustomRule{
		Chain:         normalizeChain(chain),
		Token:         common.HexToAddress(token),
		Kind:          kind,
		Direction:     direction,
		EventName:     raw.CustomEventName,
		From:          from,
		To:            to,
		SupplyPercent: raw.SupplyPercent,
		TokenData:     tokenData,
	}, nil
}

func parseAddresses(inputs []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(inputs))
	for _, input := range inputs {
		if !common.IsHexAddress(input) {
			return nil, fmt.Errorf("invalid address: %s", input)
		}
		out = append(out, common.HexToAddress(input))
	}
	return out, nil
}

// DBSource reads custom rules from Postgres, one row per (chain, token, kind).
type DBSource struct {
	Store  *postgres.Store
	Logger *zap.Logger
}

func (s *DBSource) Load(ctx context.Context) (Table, error) {
	if s == nil || s.Store == nil {
		return nil, fmt.Errorf("postgres store is nil")
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rows, err := s.Store.LoadCustomRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("custom rules: %w", err)
	}

	table := Table{}
	for _, row := range rows {
		var raw ruleJSON
		var tokenData model.TokenData
		if err := json.Unmarshal(row.Rule, &raw); err != nil {
			logger.Warn("skip custom rule", zap.String("token", row.Token), zap.Error(err))
			continue
		}
		if err := json.Unmarshal(row.TokenData, &tokenData); err != nil {
			logger.Warn("skip custom rule", zap.String("token", row.Token), zap.Error(err))
			continue
		}
		rule, err := buildRule(row.Chain, row.Token, row.EventType, raw, tokenData)
		if err != nil {
			logger.Warn("skip custom rule", zap.String("token", row.Token), zap.Error(err))
			continue
		}
		table.add(rule)
	}
	return table, nil
}
