package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/orderflow/internal/shared/id"
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrInvalidState is returned when a commit does not match the active
// transaction.
var ErrInvalidState = errors.New("unit of work: invalid state")

// State of a unit of work.
type State int

const (
	StateIdle State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "idle"
}

// Transaction outcomes reported to the Observer.
const (
	OutcomeCommitted    = "committed"
	OutcomeRolledBack   = "rolled_back"
	OutcomeCommitFailed = "commit_failed"
)

// Mutation is one pending write, run by SaveChanges or Commit.
type Mutation func(ctx context.Context, q Querier) error

// Observer receives transaction outcomes.
type Observer interface {
	ObserveTransaction(outcome string, duration time.Duration)
}

type noopObserver struct{}

func (noopObserver) ObserveTransaction(string, time.Duration) {}

// Transaction is the handle returned by Begin.
type Transaction struct {
	id      id.TransactionID
	tx      pgx.Tx
	started time.Time
}

// ID identifies the transaction in logs.
func (t *Transaction) ID() id.TransactionID {
	if t == nil {
		return ""
	}
	return t.id
}

// UnitOfWork scopes a group of writes to at most one transaction at a time.
// It moves Idle -> Active on Begin and back to Idle on Commit or Rollback,
// whatever their outcome. A UnitOfWork serves one logical operation and
// must not be shared between concurrent requests or messages.
type UnitOfWork struct {
	db       DB
	logger   *zap.Logger
	observer Observer

	mu      sync.Mutex
	current *Transaction
	pending []Mutation
}

// NewUnitOfWork creates an idle unit of work over db.
func NewUnitOfWork(db DB, logger *zap.Logger, observer Observer) *UnitOfWork {
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &UnitOfWork{db: db, logger: logger, observer: observer}
}

// Begin opens a Read-Committed transaction. When one is already active it
// returns nil and no error; nested transactions are never created.
func (u *UnitOfWork) Begin(ctx context.Context) (*Transaction, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.current != nil {
		u.logger.Debug("transaction already active", zap.String("tx_id", u.current.id.String()))
		return nil, nil
	}

	tx, err := u.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, errors.Wrap(err, "begin transaction")
	}

	u.current = &Transaction{
		id:      id.NewTransactionID(),
		tx:      tx,
		started: time.Now(),
	}
	u.logger.Debug("transaction started", zap.String("tx_id", u.current.id.String()))
	return u.current, nil
}

// Commit flushes pending mutations and commits tx. If anything fails the
// transaction is rolled back before the original error is returned. The
// unit of work is Idle afterwards in every case except a handle mismatch.
func (u *UnitOfWork) Commit(ctx context.Context, tx *Transaction) error {
	if tx == nil {
		return errors.Wrap(ErrInvalidState, "commit without a transaction")
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if tx != u.current {
		return errors.Wrapf(ErrInvalidState, "transaction %s is not current", tx.id)
	}
	defer u.releaseLocked()

	if err := u.flushLocked(ctx, tx.tx); err != nil {
		u.rollbackLocked(ctx, tx, OutcomeCommitFailed, err)
		return err
	}
	if err := tx.tx.Commit(ctx); err != nil {
		u.rollbackLocked(ctx, tx, OutcomeCommitFailed, err)
		return errors.Wrapf(err, "commit transaction %s", tx.id)
	}

	u.observer.ObserveTransaction(OutcomeCommitted, time.Since(tx.started))
	u.logger.Debug("transaction committed", zap.String("tx_id", tx.id.String()))
	return nil
}

// Rollback aborts the active transaction and discards pending mutations.
// With no active transaction it does nothing. The slot is released even if
// the driver reports an error.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	tx := u.current
	if tx == nil {
		return nil
	}
	defer u.releaseLocked()

	err := tx.tx.Rollback(context.WithoutCancel(ctx))
	u.observer.ObserveTransaction(OutcomeRolledBack, time.Since(tx.started))
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return errors.Wrapf(err, "rollback transaction %s", tx.id)
	}
	u.logger.Debug("transaction rolled back", zap.String("tx_id", tx.id.String()))
	return nil
}

// Register queues a mutation for the next SaveChanges or Commit.
func (u *UnitOfWork) Register(m Mutation) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pending = append(u.pending, m)
}

// SaveChanges runs pending mutations through the active transaction, or
// straight against the database when idle. It never opens a transaction.
// Mutations that succeed are dropped; the failing one and those after it
// stay queued.
func (u *UnitOfWork) SaveChanges(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	var q Querier = u.db
	if u.current != nil {
		q = u.current.tx
	}
	return u.flushLocked(ctx, q)
}

// Pending reports the number of queued mutations.
func (u *UnitOfWork) Pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.pending)
}

// Querier returns the active transaction, or the database when idle.
func (u *UnitOfWork) Querier() Querier {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.current != nil {
		return u.current.tx
	}
	return u.db
}

// State reports whether a transaction is active.
func (u *UnitOfWork) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.current != nil {
		return StateActive
	}
	return StateIdle
}

// Current returns the active transaction, or nil.
func (u *UnitOfWork) Current() *Transaction {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.current
}

// InTransaction runs fn inside a transaction and commits it. An error,
// panic, or cancellation rolls back. If a transaction is already active fn
// joins it and the outer caller keeps ownership of commit.
func (u *UnitOfWork) InTransaction(ctx context.Context, fn func(ctx context.Context, q Querier) error) (err error) {
	tx, err := u.Begin(ctx)
	if err != nil {
		return err
	}
	if tx == nil {
		return fn(ctx, u.Querier())
	}

	defer func() {
		if r := recover(); r != nil {
			_ = u.Rollback(ctx)
			panic(r)
		}
	}()

	if err = fn(ctx, tx.tx); err != nil {
		if rbErr := u.Rollback(ctx); rbErr != nil {
			u.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err = ctx.Err(); err != nil {
		_ = u.Rollback(ctx)
		return errors.Wrap(err, "unit of work cancelled")
	}
	return u.Commit(ctx, tx)
}

func (u *UnitOfWork) flushLocked(ctx context.Context, q Querier) error {
	for len(u.pending) > 0 {
		if err := runMutation(ctx, q, u.pending[0]); err != nil {
			return errors.Wrap(err, "save changes")
		}
		u.pending = u.pending[1:]
	}
	return nil
}

func runMutation(ctx context.Context, q Querier, m Mutation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mutation panicked: %v", r)
		}
	}()
	return m(ctx, q)
}

func (u *UnitOfWork) rollbackLocked(ctx context.Context, tx *Transaction, outcome string, cause error) {
	if err := tx.tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		u.logger.Warn("rollback after failed commit failed",
			zap.String("tx_id", tx.id.String()),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
	}
	u.observer.ObserveTransaction(outcome, time.Since(tx.started))
	u.logger.Warn("transaction rolled back", zap.String("tx_id", tx.id.String()), zap.Error(cause))
}

func (u *UnitOfWork) releaseLocked() {
	u.current = nil
	u.pending = nil
}

// Factory builds one UnitOfWork per logical operation.
type Factory struct {
	db       DB
	logger   *zap.Logger
	observer Observer
}

// NewFactory creates a factory over db.
func NewFactory(db DB, logger *zap.Logger, observer Observer) *Factory {
	return &Factory{db: db, logger: logger, observer: observer}
}

// New returns a fresh, idle unit of work.
func (f *Factory) New() *UnitOfWork {
	return NewUnitOfWork(f.db, f.logger, f.observer)
}
