package inbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/orderflow/internal/shared/id"
)

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	opts options

	mu        sync.RWMutex
	processed map[id.MessageID]time.Time
	dead      map[id.MessageID]DeadLetter
	lastPrune time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := newOptions(opts)
	return &MemoryStore{
		opts:      o,
		processed: make(map[id.MessageID]time.Time),
		dead:      make(map[id.MessageID]DeadLetter),
		lastPrune: o.now(),
	}
}

// Seen reports whether messageID was processed within the retention window.
func (s *MemoryStore) Seen(_ context.Context, messageID id.MessageID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stamp, ok := s.processed[messageID]
	return ok && !s.opts.expired(stamp, s.opts.now()), nil
}

// MarkProcessed records messageID and sweeps expired ids from time to time.
func (s *MemoryStore) MarkProcessed(_ context.Context, messageID id.MessageID) error {
	now := s.opts.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[messageID] = now
	if now.Sub(s.lastPrune) >= s.opts.pruneInterval() {
		for key, stamp := range s.processed {
			if s.opts.expired(stamp, now) {
				delete(s.processed, key)
			}
		}
		s.lastPrune = now
	}
	return nil
}

// DeadLetter keeps dl, replacing an earlier entry for the same message.
func (s *MemoryStore) DeadLetter(_ context.Context, dl DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dead[dl.MessageID] = dl
	return nil
}

// DeadLetters lists dead letters ordered by message id.
func (s *MemoryStore) DeadLetters(context.Context) ([]DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DeadLetter, 0, len(s.dead))
	for _, dl := range s.dead {
		out = append(out, dl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
