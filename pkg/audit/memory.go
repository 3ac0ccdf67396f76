package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gowebpki/jcs"
)

// ErrChainBroken is returned by Verify when an entry's hash does not match
// its content plus the previous hash.
var ErrChainBroken = errors.New("audit: hash chain is broken")

// ChainEntry wraps a stored record with its chain position.
type ChainEntry struct {
	Sequence     uint64 `json:"sequence"`
	Record       Record `json:"record"`
	PreviousHash string `json:"previous_hash"`
	EntryHash    string `json:"entry_hash"`
}

// MemorySink is an append-only in-process sink with hash chaining. Each
// entry's hash covers the canonicalized record and the previous hash, so
// any retroactive edit breaks verification.
type MemorySink struct {
	mu        sync.RWMutex
	entries   []ChainEntry
	chainHead string
}

// NewMemorySink creates an empty sink with the genesis chain head.
func NewMemorySink() *MemorySink {
	return &MemorySink{chainHead: "genesis"}
}

func entryHash(rec Record, previousHash string) (string, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("audit: marshal record: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("audit: canonicalize record: %w", err)
	}
	h := sha256.Sum256(append(canonical, []byte(previousHash)...))
	return hex.EncodeToString(h[:]), nil
}

func (s *MemorySink) Record(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	hash, err := entryHash(rec, s.chainHead)
	if err != nil {
		return err
	}
	s.entries = append(s.entries, ChainEntry{
		Sequence:     uint64(len(s.entries) + 1),
		Record:       rec,
		PreviousHash: s.chainHead,
		EntryHash:    hash,
	})
	s.chainHead = hash
	return nil
}

// Records returns copies of all stored records in append order.
func (s *MemorySink) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Record
	}
	return out
}

// Entries returns copies of the chain entries in append order.
func (s *MemorySink) Entries() []ChainEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ChainEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// ByAction returns all records whose action matches.
func (s *MemorySink) ByAction(action string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, e := range s.entries {
		if e.Record.Action == action {
			out = append(out, e.Record)
		}
	}
	return out
}

// Verify walks the chain and recomputes every hash.
func (s *MemorySink) Verify() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prev := "genesis"
	for i, e := range s.entries {
		if e.PreviousHash != prev {
			return fmt.Errorf("%w: entry %d previous hash mismatch", ErrChainBroken, i+1)
		}
		hash, err := entryHash(e.Record, prev)
		if err != nil {
			return err
		}
		if hash != e.EntryHash {
			return fmt.Errorf("%w: entry %d content hash mismatch", ErrChainBroken, i+1)
		}
		prev = e.EntryHash
	}
	return nil
}
