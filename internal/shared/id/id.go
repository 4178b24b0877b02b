// Package id provides centralized ID generation for orderflow.
//
// Identifiers that only need to be unique and sortable (messages, transactions,
// notifications, correlation ids) are prefixed ULIDs:
//   - Lexicographic sortability: dead letters and logs read in arrival order
//   - Prefixed types: msg_*, tx_*, ntf_*, cor_* are recognisable in logs
//   - Type safety: separate string types prevent mixing them up
//
// Order identities exposed to other systems stay UUIDs (see OrderMessage).
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// MessageID identifies one envelope on the bus. Redeliveries keep the same id.
type MessageID string

// TransactionID identifies one unit-of-work transaction.
type TransactionID string

// NotificationID identifies one outbound notification.
type NotificationID string

// CorrelationID ties together the business operations of one request.
type CorrelationID string

const (
	MessagePrefix      = "msg"
	TransactionPrefix  = "tx"
	NotificationPrefix = "ntf"
	CorrelationPrefix  = "cor"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand with monotonic entropy.
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(ulid.Monotonic(rand.Reader, 0))
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Useful for deterministic tests.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// WithPrefix creates a prefixed ULID string such as "msg_01J…".
func (g *Generator) WithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewMessageID generates a new message ID
func NewMessageID() MessageID {
	return MessageID(Default().WithPrefix(MessagePrefix))
}

// NewTransactionID generates a new transaction ID
func NewTransactionID() TransactionID {
	return TransactionID(Default().WithPrefix(TransactionPrefix))
}

// NewNotificationID generates a new notification ID
func NewNotificationID() NotificationID {
	return NotificationID(Default().WithPrefix(NotificationPrefix))
}

// NewCorrelationID generates a new correlation ID
func NewCorrelationID() CorrelationID {
	return CorrelationID(Default().WithPrefix(CorrelationPrefix))
}

func (id MessageID) String() string      { return string(id) }
func (id TransactionID) String() string  { return string(id) }
func (id NotificationID) String() string { return string(id) }
func (id CorrelationID) String() string  { return string(id) }

// Split separates a prefixed id into its prefix and ULID part.
func Split(s string) (prefix string, value string, ok bool) {
	i := strings.LastIndexByte(s, '_')
	if i <= 0 || i == len(s)-1 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

// IsValid reports whether s is a prefixed ULID with the given prefix.
func IsValid(s, prefix string) bool {
	p, v, ok := Split(s)
	if !ok || p != prefix {
		return false
	}
	_, err := ulid.Parse(v)
	return err == nil
}

// Timestamp extracts the creation time from a prefixed ULID.
func Timestamp(s string) (time.Time, error) {
	_, v, ok := Split(s)
	if !ok {
		return time.Time{}, fmt.Errorf("id %q has no prefix", s)
	}
	parsed, err := ulid.Parse(v)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
