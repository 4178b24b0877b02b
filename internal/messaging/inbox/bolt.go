package inbox

import (
	"context"
	"sync"
	"time"

	"github.com/GriffinCanCode/orderflow/internal/shared/id"
	"github.com/boltdb/bolt"
	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"
)

var (
	processedBucket = []byte("processed")
	deadBucket      = []byte("dead_letters")
)

// BoltStore is a Store backed by a bolt file, so idempotency survives a
// worker restart.
type BoltStore struct {
	db   *bolt.DB
	opts options

	mu        sync.Mutex
	lastPrune time.Time
}

var _ Store = (*BoltStore)(nil)

// OpenBolt opens or creates the store at path.
func OpenBolt(path string, opts ...Option) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open inbox %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{processedBucket, deadBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create inbox buckets")
	}
	o := newOptions(opts)
	return &BoltStore{db: db, opts: o, lastPrune: o.now()}, nil
}

// Seen reports whether messageID was processed within the retention window.
func (s *BoltStore) Seen(ctx context.Context, messageID id.MessageID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var seen bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(processedBucket).Get([]byte(messageID))
		if v == nil {
			return nil
		}
		stamp, err := time.Parse(time.RFC3339Nano, string(v))
		if err != nil {
			return errors.Wrapf(err, "decode stamp of %s", messageID)
		}
		seen = !s.opts.expired(stamp, s.opts.now())
		return nil
	})
	return seen, err
}

// MarkProcessed records messageID and sweeps expired ids from time to time.
func (s *BoltStore) MarkProcessed(ctx context.Context, messageID id.MessageID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.opts.now()
	stamp := []byte(now.UTC().Format(time.RFC3339Nano))
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(processedBucket).Put([]byte(messageID), stamp)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	due := now.Sub(s.lastPrune) >= s.opts.pruneInterval()
	if due {
		s.lastPrune = now
	}
	s.mu.Unlock()
	if !due {
		return nil
	}
	return s.prune(now)
}

// prune deletes processed ids older than the retention. Unreadable stamps
// are dropped as well.
func (s *BoltStore) prune(now time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(processedBucket)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			stamp, err := time.Parse(time.RFC3339Nano, string(v))
			if err != nil || s.opts.expired(stamp, now) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return errors.Wrap(err, "prune inbox")
			}
		}
		return nil
	})
}

// DeadLetter keeps dl, replacing an earlier entry for the same message.
func (s *BoltStore) DeadLetter(ctx context.Context, dl DeadLetter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := sonic.Marshal(dl)
	if err != nil {
		return errors.Wrap(err, "encode dead letter")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(deadBucket).Put([]byte(dl.MessageID), data)
	})
}

// DeadLetters lists dead letters ordered by message id.
func (s *BoltStore) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []DeadLetter
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(deadBucket).ForEach(func(_, v []byte) error {
			var dl DeadLetter
			if err := sonic.Unmarshal(v, &dl); err != nil {
				return errors.Wrap(err, "decode dead letter")
			}
			out = append(out, dl)
			return nil
		})
	})
	return out, err
}

// Close closes the bolt file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
