package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrInvalidBlock rejects a blocklist entry with an unknown kind or an
// unusable value.
var ErrInvalidBlock = errors.New("invalid blocklist entry")

// BlockKind is what a blocklist entry matches.
type BlockKind string

const (
	BlockDevice BlockKind = "dispositivo"
	BlockIP     BlockKind = "ip"
)

// ParseBlockKind accepts the wire names of the block kinds.
func ParseBlockKind(s string) (BlockKind, error) {
	switch k := BlockKind(strings.ToLower(strings.TrimSpace(s))); k {
	case BlockDevice, BlockIP:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidBlock, s)
	}
}

// BlockEntry is one blocked device hash or IP address.
type BlockEntry struct {
	Kind      BlockKind `json:"tipo"`
	Value     string    `json:"valor"`
	Reason    string    `json:"motivo,omitempty"`
	CreatedAt time.Time `json:"criadoEm"`
}

// Blocklist holds devices and addresses that are refused outright,
// whatever their score.
//
// Values are normalized before storage and lookup: IP addresses to their
// canonical text form, device hashes trimmed. IsBlocked on a value that
// cannot be normalized is false, not an error.
type Blocklist interface {
	Block(ctx context.Context, e BlockEntry) error
	// Unblock reports whether the entry existed.
	Unblock(ctx context.Context, kind BlockKind, value string) (bool, error)
	IsBlocked(ctx context.Context, kind BlockKind, value string) (bool, error)
	// List returns the entries of one kind, oldest first.
	List(ctx context.Context, kind BlockKind) ([]BlockEntry, error)
}

func normalizeBlock(kind BlockKind, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch kind {
	case BlockIP:
		ip := net.ParseIP(value)
		if ip == nil {
			return "", fmt.Errorf("%w: %q is not an IP address", ErrInvalidBlock, value)
		}
		return ip.String(), nil
	case BlockDevice:
		if value == "" {
			return "", fmt.Errorf("%w: empty device hash", ErrInvalidBlock)
		}
		return value, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidBlock, kind)
	}
}

// prepareBlock validates e and fills in its normalized value and time.
func prepareBlock(e BlockEntry) (BlockEntry, error) {
	v, err := normalizeBlock(e.Kind, e.Value)
	if err != nil {
		return e, err
	}
	e.Value = v
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return e, nil
}

func sortEntries(entries []BlockEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].Value < entries[j].Value
	})
}

// MemoryBlocklist keeps entries in process memory.
type MemoryBlocklist struct {
	mu      sync.RWMutex
	entries map[BlockKind]map[string]BlockEntry
}

// NewMemoryBlocklist creates an empty blocklist.
func NewMemoryBlocklist() *MemoryBlocklist {
	return &MemoryBlocklist{entries: map[BlockKind]map[string]BlockEntry{
		BlockDevice: {},
		BlockIP:     {},
	}}
}

func (m *MemoryBlocklist) Block(_ context.Context, e BlockEntry) error {
	e, err := prepareBlock(e)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Kind][e.Value] = e
	return nil
}

func (m *MemoryBlocklist) Unblock(_ context.Context, kind BlockKind, value string) (bool, error) {
	v, err := normalizeBlock(kind, value)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[kind][v]
	delete(m.entries[kind], v)
	return ok, nil
}

func (m *MemoryBlocklist) IsBlocked(_ context.Context, kind BlockKind, value string) (bool, error) {
	v, err := normalizeBlock(kind, value)
	if err != nil {
		return false, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[kind][v]
	return ok, nil
}

func (m *MemoryBlocklist) List(_ context.Context, kind BlockKind) ([]BlockEntry, error) {
	if _, err := ParseBlockKind(string(kind)); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]BlockEntry, 0, len(m.entries[kind]))
	for _, e := range m.entries[kind] {
		out = append(out, e)
	}
	m.mu.RUnlock()
	sortEntries(out)
	return out, nil
}
