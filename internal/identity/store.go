// Package identity persists the heartbeat signing keypair on disk in the
// Solana CLI format: a JSON array of the 64 key bytes.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ideastake/ledgerbeat/internal/ledger"
	"github.com/rs/zerolog"
)

// FileStore reads and writes keypair files. Files are written once and never
// replaced, so concurrent readers always see either nothing or a complete key.
type FileStore struct {
	log zerolog.Logger
}

// NewFileStore creates a new keypair file store
func NewFileStore(log zerolog.Logger) *FileStore {
	return &FileStore{
		log: log.With().Str("component", "identity_store").Logger(),
	}
}

// Load reads the keypair at path.
func (s *FileStore) Load(path string) (ledger.Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ledger.Keypair{}, ledger.ErrIdentityNotFound
		}
		return ledger.Keypair{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Decode(data)
}

// Save writes kp to path unless a file already exists there.
// The key is written to a temp file first and hard-linked into place.
func (s *FileStore) Save(path string, kp ledger.Keypair) error {
	data, err := Encode(kp)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create keypair directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".keypair-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp keypair file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to restrict keypair permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write keypair: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync keypair: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close keypair file: %w", err)
	}

	if err := os.Link(tmpPath, path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return ledger.ErrIdentityExists
		}
		return fmt.Errorf("failed to persist keypair to %s: %w", path, err)
	}

	s.log.Info().Str("path", path).Str("address", kp.Address()).Msg("Keypair saved")
	return nil
}

// Encode renders kp as a JSON byte array.
func Encode(kp ledger.Keypair) ([]byte, error) {
	if kp.IsZero() {
		return nil, fmt.Errorf("cannot encode empty keypair")
	}
	raw := kp.Bytes()
	ints := make([]int, len(raw))
	for i, b := range raw {
		ints[i] = int(b)
	}
	return json.Marshal(ints)
}

// Decode parses a JSON byte array into a keypair.
func Decode(data []byte) (ledger.Keypair, error) {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return ledger.Keypair{}, fmt.Errorf("failed to parse keypair: %w", err)
	}
	raw := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return ledger.Keypair{}, fmt.Errorf("keypair byte %d out of range: %d", i, v)
		}
		raw[i] = byte(v)
	}
	return ledger.KeypairFromBytes(raw)
}
