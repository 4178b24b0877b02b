package messaging

import "github.com/cockroachdb/errors"

var (
	// ErrClosed is returned by a transport after Close.
	ErrClosed = errors.New("transport closed")

	// ErrPermanent marks handler failures that retrying cannot fix.
	ErrPermanent = errors.New("permanent failure")
)

// Permanent marks err so the consumer dead-letters it without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrPermanent)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}
