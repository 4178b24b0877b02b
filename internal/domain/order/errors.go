package order

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrInvalid marks input that can never succeed.
	ErrInvalid = errors.New("invalid order")
	// ErrTransient marks failures worth retrying later.
	ErrTransient = errors.New("temporarily unavailable")
)

// Kind classifies an error for callers that map it to a response.
type Kind int

const (
	KindNone Kind = iota
	KindNotFound
	KindInvalid
	KindTransient
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNotFound:
		return "not_found"
	case KindInvalid:
		return "invalid"
	case KindTransient:
		return "transient"
	default:
		return "permanent"
	}
}

// Postgres SQLSTATE classes that a retry can clear: connection exceptions,
// transaction rollbacks (serialization, deadlock), insufficient resources,
// and operator intervention.
var transientClasses = []string{"08", "40", "53", "57P"}

// KindOf classifies err.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNotFound), errors.Is(err, pgx.ErrNoRows):
		return KindNotFound
	case errors.Is(err, ErrInvalid):
		return KindInvalid
	case errors.Is(err, ErrTransient), isTransient(err):
		return KindTransient
	default:
		return KindPermanent
	}
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		for _, class := range transientClasses {
			if strings.HasPrefix(pgErr.Code, class) {
				return true
			}
		}
		return false
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}
