package labels

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"onchainScreener/internal/model"
)

const (
	labelsFile    = "address_labels.txt"
	multisigFile  = "multisig_addresses.txt"
	blacklistFile = "blacklist_signatures.txt"
)

// FileSource reads the filters directory:
//
//	address_labels.txt                 address:label
//	multisig_addresses.txt             one address per line
//	<kind>/blacklist_signatures.txt    topic0:name
//
// Blank lines and lines starting with # are skipped. Missing files are empty.
type FileSource struct {
	Dir string
}

func (f FileSource) Load(_ context.Context) (Data, error) {
	data := Data{Signatures: make(map[model.EventKind]map[common.Hash]string)}

	labels, err := readFile(filepath.Join(f.Dir, labelsFile), ParsePairs)
	if err != nil {
		return Data{}, err
	}
	data.Labels = labels

	multisig, err := readFile(filepath.Join(f.Dir, multisigFile), ParseSet)
	if err != nil {
		return Data{}, err
	}
	data.Multisig = multisig

	for _, kind := range model.Kinds {
		pairs, err := readFile(filepath.Join(f.Dir, string(kind), blacklistFile), ParsePairs)
		if err != nil {
			return Data{}, err
		}
		sigs, err := ParseSignatures(pairs)
		if err != nil {
			return Data{}, fmt.Errorf("%s blacklist: %w", kind, err)
		}
		if len(sigs) > 0 {
			data.Signatures[kind] = sigs
		}
	}

	return data, nil
}

func readFile[T any](path string, parse func(io.Reader) (T, error)) (T, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return parse(strings.NewReader(""))
		}
		var zero T
		return zero, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	out, err := parse(file)
	if err != nil {
		return out, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}

// ParsePairs reads key:value lines. Keys are lowercased and values trimmed.
func ParsePairs(r io.Reader) (map[string]string, error) {
	out := make(map[string]string)
	err := scanLines(r, func(line string) {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			return
		}
		out[key] = strings.TrimSpace(value)
	})
	return out, err
}

// ParseSet reads one lowercased entry per line.
func ParseSet(r io.Reader) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	err := scanLines(r, func(line string) {
		out[strings.ToLower(line)] = struct{}{}
	})
	return out, err
}

// ParseSignatures converts topic0 keys (with or without 0x) into hashes.
func ParseSignatures(pairs map[string]string) (map[common.Hash]string, error) {
	out := make(map[common.Hash]string, len(pairs))
	for key, name := range pairs {
		key = strings.ToLower(strings.TrimSpace(key))
		if !strings.HasPrefix(key, "0x") {
			key = "0x" + key
		}
		raw, err := hexutil.Decode(key)
		if err != nil || len(raw) != common.HashLength {
			return nil, fmt.Errorf("invalid topic0: %s", key)
		}
		out[common.BytesToHash(raw)] = name
	}
	return out, nil
}

func scanLines(r io.Reader, fn func(line string)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fn(line)
	}
	return scanner.Err()
}
