// Package audit keeps a tamper-evident record of vault mutations. Events
// are hash-chained: each entry's hash covers the previous hash plus the
// event, so truncating or editing the middle of the file breaks Verify.
// The trail stores event names only, never credential material.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

var ErrChainBroken = errors.New("audit: hash chain broken")

type Entry struct {
	TS    int64  `json:"ts"`
	Event string `json:"event"`
	Hash  string `json:"hash"`
}

// Trail is an append-only event chain, optionally persisted as JSON lines.
// Record matches the vault's notifier signature.
type Trail struct {
	mu       sync.Mutex
	path     string
	lastHash []byte
	entries  []Entry
}

// New opens the trail at path, replaying and verifying any existing
// entries. An empty path keeps the trail in memory only.
func New(path string) (*Trail, error) {
	t := &Trail{path: path}
	if path == "" {
		return t, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("%w: unreadable entry %d", ErrChainBroken, len(t.entries))
		}
		if hashEntry(t.lastHash, e.Event) != e.Hash {
			return nil, fmt.Errorf("%w: entry %d", ErrChainBroken, len(t.entries))
		}
		t.lastHash, _ = hex.DecodeString(e.Hash)
		t.entries = append(t.entries, e)
	}
	return t, sc.Err()
}

// Record appends an event to the chain. Persistence failures are swallowed
// after the in-memory append: a full disk must not block a vault mutation
// that already happened.
func (t *Trail) Record(event string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := Entry{TS: time.Now().Unix(), Event: event, Hash: hashEntry(t.lastHash, event)}
	t.lastHash, _ = hex.DecodeString(e.Hash)
	t.entries = append(t.entries, e)

	if t.path == "" {
		return
	}
	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	b, _ := json.Marshal(e)
	f.Write(append(b, '\n'))
}

// Verify recomputes the chain from the start.
func (t *Trail) Verify() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var prev []byte
	for i, e := range t.entries {
		if hashEntry(prev, e.Event) != e.Hash {
			return fmt.Errorf("%w: entry %d", ErrChainBroken, i)
		}
		prev, _ = hex.DecodeString(e.Hash)
	}
	return nil
}

func (t *Trail) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Entry(nil), t.entries...)
}

func hashEntry(prev []byte, event string) string {
	h := sha256.New()
	h.Write(prev)
	h.Write([]byte(event))
	return hex.EncodeToString(h.Sum(nil))
}
