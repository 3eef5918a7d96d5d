// Package chain is an audit.Store backed by an append-only JSONL file in
// which every record carries the hash of the previous line, so truncation
// or in-place edits are detectable with Verify.
package chain

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	audit "warden/pkg/platform/audit"
)

// GenesisHash is the prev_hash of the first record in a new log.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

type record struct {
	audit.Event
	PrevHash string `json:"prev_hash"`
}

// Store appends hash-chained records to a single file.
type Store struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	prevHash string
}

// Open opens or creates the log at path and recovers the chain tail.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("audit chain: create directory: %w", err)
	}

	prevHash := GenesisHash
	if err := scanLines(path, func(line []byte) error {
		prevHash = HashLine(line)
		return nil
	}); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("audit chain: read existing log: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit chain: open file: %w", err)
	}
	return &Store{path: path, file: file, prevHash: prevHash}, nil
}

// Append writes event, links it to the previous record and syncs.
func (s *Store) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(record{Event: event, PrevHash: s.prevHash})
	if err != nil {
		return fmt.Errorf("audit chain: marshal: %w", err)
	}
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit chain: write: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("audit chain: sync: %w", err)
	}
	s.prevHash = HashLine(line)
	return nil
}

func (s *Store) ListByCorrelation(_ context.Context, correlationID string) ([]audit.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Event
	err := scanLines(s.path, func(line []byte) error {
		var r record
		if err := json.Unmarshal(line, &r); err != nil {
			return err
		}
		if r.CorrelationID == correlationID {
			out = append(out, r.Event)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit chain: read: %w", err)
	}
	return out, nil
}

func (s *Store) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []audit.Event
	err := scanLines(s.path, func(line []byte) error {
		var r record
		if err := json.Unmarshal(line, &r); err != nil {
			return err
		}
		all = append(all, r.Event)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit chain: read: %w", err)
	}
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// HashLine returns "sha256:<hex>" of line.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}

// VerifyResult is the outcome of Verify.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

// Verify walks the log at path and checks every link of the chain.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()
	return VerifyReader(f)
}

// VerifyReader is Verify over an arbitrary reader.
func VerifyReader(r io.Reader) VerifyResult {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	expected := GenesisHash
	n := 0
	for scanner.Scan() {
		n++
		line := scanner.Bytes()
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			return VerifyResult{Lines: n, Error: fmt.Sprintf("parse error: %v", err), ErrorLine: n}
		}
		if rec.PrevHash != expected {
			return VerifyResult{
				Lines:     n,
				Error:     fmt.Sprintf("hash mismatch: expected %s, got %s", expected, rec.PrevHash),
				ErrorLine: n,
			}
		}
		expected = HashLine(line)
	}
	if err := scanner.Err(); err != nil {
		return VerifyResult{Lines: n, Error: fmt.Sprintf("scan: %v", err)}
	}
	return VerifyResult{Valid: true, Lines: n}
}

func scanLines(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		if err := fn(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}
