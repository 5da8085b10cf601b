package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nicolRB/LogWare/pkg/canonicalize"
)

// GenesisHash is the previous hash of the first entry.
const GenesisHash = "genesis"

var (
	ErrChainBroken = errors.New("hash chain is broken")
)

// Entry is a single immutable link in the audit chain.
type Entry struct {
	Sequence     uint64 `json:"sequence"`
	Event        Event  `json:"event"`
	PreviousHash string `json:"previous_hash"`
	EntryHash    string `json:"entry_hash"`
}

// Chain is an append-only, hash-chained audit log. Each appended entry is
// also written as one JSON line to the sink, when one is configured, so the
// chain can be rebuilt with LoadChain.
type Chain struct {
	mu      sync.RWMutex
	entries []Entry
	head    string
	sink    io.Writer
	now     func() time.Time
}

// NewChain creates an empty chain writing to sink (may be nil).
func NewChain(sink io.Writer) *Chain {
	return &Chain{head: GenesisHash, sink: sink, now: time.Now}
}

// LoadChain rebuilds a chain from JSON lines previously written to a sink,
// verifies it and keeps appending to sink.
func LoadChain(r io.Reader, sink io.Writer) (*Chain, error) {
	c := NewChain(sink)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrChainBroken, len(c.entries)+1, err)
		}
		c.entries = append(c.entries, e)
		c.head = e.EntryHash
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if err := c.VerifyChain(); err != nil {
		return nil, err
	}
	return c, nil
}

// Record appends an event for reportID.
func (c *Chain) Record(ctx context.Context, eventType EventType, reportID string, metadata map[string]string) error {
	_, err := c.Append(newEvent(ctx, eventType, reportID, metadata, c.now()))
	return err
}

// Append links ev to the chain head.
func (c *Chain) Append(ev Event) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := Entry{
		Sequence:     uint64(len(c.entries)) + 1,
		Event:        ev,
		PreviousHash: c.head,
	}
	hash, err := entryHash(entry)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to compute entry hash: %w", err)
	}
	entry.EntryHash = hash

	if c.sink != nil {
		line, err := json.Marshal(entry)
		if err != nil {
			return Entry{}, err
		}
		if _, err := c.sink.Write(append(line, '\n')); err != nil {
			return Entry{}, fmt.Errorf("audit sink: %w", err)
		}
	}
	c.entries = append(c.entries, entry)
	c.head = hash
	return entry, nil
}

// entryHash commits to the canonical form of everything but the hash itself.
func entryHash(e Entry) (string, error) {
	e.EntryHash = ""
	digest, err := canonicalize.CanonicalHash(e)
	if err != nil {
		return "", err
	}
	return "sha256:" + digest, nil
}

// Head returns the current chain head hash.
func (c *Chain) Head() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.head
}

// Len returns the number of entries.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Entries returns the entries for reportID, or every entry when reportID is
// empty, in append order.
func (c *Chain) Entries(reportID string) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0)
	for _, e := range c.entries {
		if reportID == "" || e.Event.ReportID == reportID {
			out = append(out, e)
		}
	}
	return out
}

// VerifyChain verifies the integrity of the hash chain.
func (c *Chain) VerifyChain() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return verifyEntries(c.entries)
}

func verifyEntries(entries []Entry) error {
	expectedPrev := GenesisHash
	for i, entry := range entries {
		if entry.Sequence != uint64(i)+1 {
			return fmt.Errorf("%w: entry %d has sequence %d", ErrChainBroken, i+1, entry.Sequence)
		}
		if entry.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: entry %d has previous_hash %s but expected %s",
				ErrChainBroken, i+1, entry.PreviousHash, expectedPrev)
		}
		computed, err := entryHash(entry)
		if err != nil {
			return fmt.Errorf("%w: entry %d hash computation failed: %w", ErrChainBroken, i+1, err)
		}
		if computed != entry.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch (computed %s, stored %s)",
				ErrChainBroken, i+1, computed, entry.EntryHash)
		}
		expectedPrev = entry.EntryHash
	}
	return nil
}
