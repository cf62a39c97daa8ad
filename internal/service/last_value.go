package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"price_watch/internal/domain"

	"github.com/shopspring/decimal"
)

// KV layout shared with anything reading the store directly
const (
	KeySymbol      = "symbol"
	KeyPrice       = "price"
	KeyEntryPrefix = "price:"
)

// EntryKey returns the KV key holding the JSON entry for symbol
func EntryKey(symbol string) string {
	return KeyEntryPrefix + symbol
}

// LastValueStore holds the most recent trade per symbol
type LastValueStore struct {
	mu      sync.RWMutex
	entries map[string]domain.LastValueEntry
	latest  string // symbol of the most recent write

	// writeMu keeps the memory and KV write order identical
	writeMu sync.Mutex

	kv          domain.KVStore
	rejectStale bool
}

// NewLastValueStore creates a store. kv may be nil for a memory-only store.
// With rejectStale, events older than the stored entry are dropped instead of
// overwriting it (default is last arrival wins).
func NewLastValueStore(kv domain.KVStore, rejectStale bool) *LastValueStore {
	return &LastValueStore{
		entries:     make(map[string]domain.LastValueEntry),
		kv:          kv,
		rejectStale: rejectStale,
	}
}

// SetLatest overwrites the entry for ev.Symbol.
// applied is false only when the event was rejected as stale.
// The in-memory entry is updated even when the write-through fails; the
// returned *domain.StoreError reports the lost durable write.
func (s *LastValueStore) SetLatest(ctx context.Context, ev domain.TradeEvent) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.rejectStale {
		s.mu.RLock()
		cur, ok := s.entries[ev.Symbol]
		s.mu.RUnlock()
		if ok && ev.EventTimeMillis < cur.UpdatedAtMillis {
			return false, nil
		}
	}

	entry := domain.NewLastValueEntry(ev)

	s.mu.Lock()
	s.entries[ev.Symbol] = entry
	s.latest = ev.Symbol
	s.mu.Unlock()

	if s.kv == nil {
		return true, nil
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return true, fmt.Errorf("encode entry: %w", err)
	}
	err = s.kv.MSet(ctx, map[string]string{
		KeySymbol:          ev.Symbol,
		KeyPrice:           ev.Price.String(),
		EntryKey(ev.Symbol): string(payload),
	})
	return true, domain.NewStoreError("mset", err)
}

// GetLatest returns a copy of the entry for symbol, or nil when no trade was ever seen.
func (s *LastValueStore) GetLatest(ctx context.Context, symbol string) (*domain.LastValueEntry, error) {
	s.mu.RLock()
	entry, ok := s.entries[symbol]
	s.mu.RUnlock()
	if ok {
		return &entry, nil
	}

	if s.kv == nil {
		return nil, nil
	}

	raw, found, err := s.kv.Get(ctx, EntryKey(symbol))
	if err != nil {
		return nil, domain.NewStoreError("get", err)
	}
	if !found {
		return nil, nil
	}
	return decodeEntry(raw)
}

// GetMany returns entries for the symbols that have one; misses are absent from the map.
func (s *LastValueStore) GetMany(ctx context.Context, symbols []string) (map[string]domain.LastValueEntry, error) {
	result := make(map[string]domain.LastValueEntry, len(symbols))
	var missing []string

	s.mu.RLock()
	for _, sym := range symbols {
		if entry, ok := s.entries[sym]; ok {
			result[sym] = entry
		} else {
			missing = append(missing, sym)
		}
	}
	s.mu.RUnlock()

	if len(missing) == 0 || s.kv == nil {
		return result, nil
	}

	keys := make([]string, len(missing))
	for i, sym := range missing {
		keys[i] = EntryKey(sym)
	}
	vals, err := s.kv.MGet(ctx, keys...)
	if err != nil {
		return nil, domain.NewStoreError("mget", err)
	}
	for i, v := range vals {
		if v == nil {
			continue
		}
		entry, err := decodeEntry(*v)
		if err != nil {
			return nil, err
		}
		result[missing[i]] = *entry
	}
	return result, nil
}

// Snapshot returns the most recently written {symbol, price}, or nil before any trade.
func (s *LastValueStore) Snapshot(ctx context.Context) (*domain.Snapshot, error) {
	s.mu.RLock()
	latest := s.latest
	entry, ok := s.entries[latest]
	s.mu.RUnlock()
	if ok {
		return &domain.Snapshot{Symbol: entry.Symbol, Price: entry.Price}, nil
	}

	if s.kv == nil {
		return nil, nil
	}

	vals, err := s.kv.MGet(ctx, KeySymbol, KeyPrice)
	if err != nil {
		return nil, domain.NewStoreError("mget", err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return nil, nil
	}
	price, err := decimal.NewFromString(*vals[1])
	if err != nil {
		return nil, fmt.Errorf("stored price %q: %w", *vals[1], err)
	}
	return &domain.Snapshot{Symbol: *vals[0], Price: price}, nil
}

// All returns every in-memory entry sorted by symbol
func (s *LastValueStore) All() []domain.LastValueEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.LastValueEntry, 0, len(s.entries))
	for _, e := range s.entries {
		result = append(result, e)
	}

	// Sort by symbol for consistent ordering
	sort.Slice(result, func(i, j int) bool {
		return result[i].Symbol < result[j].Symbol
	})
	return result
}

func decodeEntry(raw string) (*domain.LastValueEntry, error) {
	var entry domain.LastValueEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("decode stored entry: %w", err)
	}
	return &entry, nil
}
