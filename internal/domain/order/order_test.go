package order

import (
	"context"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/GriffinCanCode/orderflow/internal/infrastructure/database"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/orderflow/internal/messages"
	"github.com/GriffinCanCode/orderflow/internal/shared/id"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

// journal records the order of store and bus calls.
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(e string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

type idRow struct {
	id  int64
	err error
}

func (r idRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	switch d := dest[0].(type) {
	case *int64:
		*d = r.id
	case *int32:
		*d = int32(r.id)
	}
	return nil
}

type scriptedTx struct {
	pgx.Tx
	j         *journal
	insertErr error
	commitErr error
}

func (t *scriptedTx) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	switch {
	case strings.Contains(sql, "ordering.buyers"):
		t.j.add("upsert buyer")
		return idRow{id: 3}
	case strings.Contains(sql, "ordering.orders"):
		t.j.add("insert order")
		return idRow{id: 7, err: t.insertErr}
	}
	return idRow{err: errors.New("unexpected query")}
}

func (t *scriptedTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	if strings.Contains(sql, "ordering.orderitems") {
		t.j.add("insert item")
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (t *scriptedTx) Commit(context.Context) error {
	t.j.add("commit")
	return t.commitErr
}

func (t *scriptedTx) Rollback(context.Context) error {
	t.j.add("rollback")
	return nil
}

type scriptedDB struct {
	database.Querier
	tx       *scriptedTx
	beginErr error
}

func (d *scriptedDB) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	if d.beginErr != nil {
		return nil, d.beginErr
	}
	d.tx.j.add("begin")
	return d.tx, nil
}

type recordingPublisher struct {
	j   *journal
	err error

	mu   sync.Mutex
	sent []messages.OrderMessage
	cids []id.CorrelationID
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, msg messages.Message, cid id.CorrelationID) (id.MessageID, error) {
	p.j.add("publish")
	if p.err != nil {
		return "", p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg.(messages.OrderMessage))
	p.cids = append(p.cids, cid)
	return id.NewMessageID(), nil
}

func newTracer(t *testing.T) (*tracing.Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tr, err := tracing.New(context.Background(), tracing.Config{
		ServiceName: "orderflow-test",
		Enabled:     true,
		Exporter:    tracing.ExporterNone,
		SampleRatio: 1,
	}, zap.NewNop(), tracing.WithSpanProcessor(rec))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Shutdown(context.Background()) })
	return tr, rec
}

func validRequest() PlaceOrderRequest {
	return PlaceOrderRequest{
		OrderNumber: "ORD-100",
		OrderAmount: 99.5,
		BuyerID:     uuid.New(),
		Items: []Item{
			{ProductName: "keyboard", Units: 1, UnitPrice: 79.5},
			{ProductName: "cable", Units: 2, UnitPrice: 10},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *Order)
		wantErr string
	}{
		{name: "valid", mutate: func(*Order) {}},
		{name: "missing number", mutate: func(o *Order) { o.Number = "" }, wantErr: "order number is required"},
		{name: "long number", mutate: func(o *Order) { o.Number = strings.Repeat("9", 51) }, wantErr: "exceeds 50"},
		{name: "zero amount", mutate: func(o *Order) { o.Amount = 0 }, wantErr: "amount must be positive"},
		{name: "unknown status", mutate: func(o *Order) { o.Status = "lost" }, wantErr: "unknown status"},
		{name: "item without units", mutate: func(o *Order) {
			o.Items = []Item{{ProductName: "mouse"}}
		}, wantErr: "item 0: units must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := New("ORD-1", 10)
			tt.mutate(o)
			err := o.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, KindInvalid, KindOf(err))
		})
	}
}

func TestTotal(t *testing.T) {
	o := New("ORD-1", 10)
	o.Items = []Item{{ProductName: "a", Units: 2, UnitPrice: 1.5}, {ProductName: "b", Units: 1, UnitPrice: 4}}
	assert.InDelta(t, 7.0, o.Total(), 1e-9)
}

func TestStatusIDs(t *testing.T) {
	for s, sid := range statusIDs {
		got, ok := StatusFromID(sid)
		require.True(t, ok)
		assert.Equal(t, s, got)
	}
	_, ok := StatusFromID(99)
	assert.False(t, ok)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"not found", errors.Wrap(ErrNotFound, "order 1"), KindNotFound},
		{"no rows", errors.Wrap(pgx.ErrNoRows, "scan"), KindNotFound},
		{"invalid", errors.Mark(errors.New("bad"), ErrInvalid), KindInvalid},
		{"marked transient", errors.Mark(errors.New("bus down"), ErrTransient), KindTransient},
		{"deadline", errors.Wrap(context.DeadlineExceeded, "query"), KindTransient},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, KindTransient},
		{"connection failure", &pgconn.PgError{Code: "08006"}, KindTransient},
		{"too many connections", &pgconn.PgError{Code: "53300"}, KindTransient},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, KindTransient},
		{"unique violation", &pgconn.PgError{Code: "23505"}, KindPermanent},
		{"other", errors.New("boom"), KindPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestValidateColumnContracts(t *testing.T) {
	require.NoError(t, ValidateColumnContracts())

	for _, c := range columnContracts {
		var sql string
		switch c.name {
		case "GetOrder":
			sql = getOrderSQL
		case "GetOrdersFromUser":
			sql = ordersFromUserSQL
		case "GetCardTypes":
			sql = cardTypesSQL
		}
		for _, col := range c.columns {
			if c.name == "GetCardTypes" {
				assert.Contains(t, sql, col, "%s selects %s", c.name, col)
				continue
			}
			assert.Contains(t, sql, "AS "+col, "%s selects %s", c.name, col)
		}
	}
}

func TestDBTagsDetectDrift(t *testing.T) {
	type drifted struct {
		ID    int32  `db:"id"`
		Label string `db:"label"`
		Skip  string `db:"-"`
	}
	assert.Equal(t, []string{"id", "label"}, dbTags(reflect.TypeOf(drifted{})))
}

func TestViewFromLines(t *testing.T) {
	name, units, price := "keyboard", int32(2), 5.0
	v := viewFromLines([]orderLineRow{
		{OrderNumber: 4, Status: "submitted", ProductName: &name, Units: &units, UnitPrice: &price},
	})
	assert.Equal(t, int64(4), v.OrderNumber)
	require.Len(t, v.Items, 1)
	assert.InDelta(t, 10.0, v.Total, 1e-9)

	empty := viewFromLines([]orderLineRow{{OrderNumber: 5}})
	assert.Empty(t, empty.Items)
	assert.Zero(t, empty.Total)
}

func TestPlaceOrderPersistsThenPublishesThenCommits(t *testing.T) {
	j := &journal{}
	db := &scriptedDB{tx: &scriptedTx{j: j}}
	pub := &recordingPublisher{j: j}
	tracer, rec := newTracer(t)
	svc := NewService(database.NewFactory(db, zap.NewNop(), nil), pub, tracer, "order-queue", zap.NewNop())

	req := validRequest()
	req.CorrelationID = "cor_fixed"
	res, err := svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"begin", "upsert buyer", "insert order", "insert item", "insert item", "publish", "commit"}, j.list())
	assert.True(t, res.Persisted)
	assert.Equal(t, int64(7), res.ID)
	assert.NotEmpty(t, res.MessageID)
	assert.Equal(t, id.CorrelationID("cor_fixed"), res.CorrelationID)

	require.Len(t, pub.sent, 1)
	assert.Equal(t, res.OrderID, pub.sent[0].OrderID)
	assert.Equal(t, "ORD-100", pub.sent[0].OrderNumber)
	assert.Equal(t, 99.5, pub.sent[0].OrderAmount)
	assert.Equal(t, id.CorrelationID("cor_fixed"), pub.cids[0])

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "PlaceOrder", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
}

func TestPlaceOrderPublishFailureRollsBack(t *testing.T) {
	j := &journal{}
	db := &scriptedDB{tx: &scriptedTx{j: j}}
	pub := &recordingPublisher{j: j, err: errors.New("broker unreachable")}
	tracer, rec := newTracer(t)
	svc := NewService(database.NewFactory(db, zap.NewNop(), nil), pub, tracer, "order-queue", zap.NewNop())

	_, err := svc.PlaceOrder(context.Background(), validRequest())
	require.Error(t, err)
	assert.Equal(t, KindTransient, KindOf(err))
	assert.Equal(t, []string{"begin", "upsert buyer", "insert order", "insert item", "insert item", "publish", "rollback"}, j.list())
	assert.Equal(t, codes.Error, rec.Ended()[0].Status().Code)
}

func TestPlaceOrderCommitFailureSurfaces(t *testing.T) {
	j := &journal{}
	commitErr := errors.New("connection reset")
	db := &scriptedDB{tx: &scriptedTx{j: j, commitErr: commitErr}}
	pub := &recordingPublisher{j: j}
	tracer, _ := newTracer(t)
	svc := NewService(database.NewFactory(db, zap.NewNop(), nil), pub, tracer, "order-queue", zap.NewNop())

	_, err := svc.PlaceOrder(context.Background(), validRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, commitErr))
	assert.Equal(t, []string{"begin", "upsert buyer", "insert order", "insert item", "insert item", "publish", "commit", "rollback"}, j.list())
}

func TestPlaceOrderInsertFailureDoesNotPublish(t *testing.T) {
	j := &journal{}
	db := &scriptedDB{tx: &scriptedTx{j: j, insertErr: &pgconn.PgError{Code: "23505", Message: "duplicate key"}}}
	pub := &recordingPublisher{j: j}
	tracer, _ := newTracer(t)
	svc := NewService(database.NewFactory(db, zap.NewNop(), nil), pub, tracer, "order-queue", zap.NewNop())

	_, err := svc.PlaceOrder(context.Background(), validRequest())
	require.Error(t, err)
	assert.Equal(t, KindPermanent, KindOf(err))
	assert.NotContains(t, j.list(), "publish")
	assert.Contains(t, j.list(), "rollback")
}

func TestPlaceOrderBeginFailureIsTransient(t *testing.T) {
	j := &journal{}
	db := &scriptedDB{tx: &scriptedTx{j: j}, beginErr: errors.New("pool exhausted")}
	pub := &recordingPublisher{j: j}
	tracer, _ := newTracer(t)
	svc := NewService(database.NewFactory(db, zap.NewNop(), nil), pub, tracer, "order-queue", zap.NewNop())

	_, err := svc.PlaceOrder(context.Background(), validRequest())
	assert.Equal(t, KindTransient, KindOf(err))
	assert.Empty(t, j.list())
}

func TestPlaceOrderWithoutPersistence(t *testing.T) {
	j := &journal{}
	pub := &recordingPublisher{j: j}
	tracer, _ := newTracer(t)
	svc := NewService(nil, pub, tracer, "order-queue", zap.NewNop())
	assert.False(t, svc.Persistent())

	res, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{OrderNumber: "ORD-2", OrderAmount: 5})
	require.NoError(t, err)
	assert.False(t, res.Persisted)
	assert.Zero(t, res.ID)
	assert.True(t, id.IsValid(res.CorrelationID.String(), id.CorrelationPrefix))
	assert.Equal(t, []string{"publish"}, j.list())
}

func TestPlaceOrderRejectsInvalidRequest(t *testing.T) {
	j := &journal{}
	tracer, rec := newTracer(t)
	svc := NewService(nil, &recordingPublisher{j: j}, tracer, "order-queue", zap.NewNop())

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{OrderNumber: "ORD-3"})
	assert.Equal(t, KindInvalid, KindOf(err))
	assert.Empty(t, j.list())
	assert.Empty(t, rec.Ended())
}

type statusTx struct {
	pgx.Tx
	rows int64
	args []any
}

func (t *statusTx) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	t.args = args
	return pgconn.NewCommandTag("UPDATE " + strconv.FormatInt(t.rows, 10)), nil
}

func (t *statusTx) Commit(context.Context) error   { return nil }
func (t *statusTx) Rollback(context.Context) error { return nil }

type statusDB struct {
	database.Querier
	tx *statusTx
}

func (d *statusDB) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	return d.tx, nil
}

func TestMarkStatus(t *testing.T) {
	ctx := context.Background()
	orderID := uuid.New()

	t.Run("updates by order id", func(t *testing.T) {
		db := &statusDB{tx: &statusTx{rows: 1}}
		uow := database.NewUnitOfWork(db, zap.NewNop(), nil)
		repo := NewRepository(uow)

		require.NoError(t, repo.MarkStatus(orderID, StatusAwaitingValidation))
		assert.Equal(t, 1, uow.Pending())

		err := uow.InTransaction(ctx, func(ctx context.Context, _ database.Querier) error {
			return uow.SaveChanges(ctx)
		})
		require.NoError(t, err)
		assert.Equal(t, []any{orderID, StatusAwaitingValidation.ID()}, db.tx.args)
	})

	t.Run("missing order", func(t *testing.T) {
		db := &statusDB{tx: &statusTx{rows: 0}}
		uow := database.NewUnitOfWork(db, zap.NewNop(), nil)
		repo := NewRepository(uow)

		require.NoError(t, repo.MarkStatus(orderID, StatusPaid))
		tx, err := uow.Begin(ctx)
		require.NoError(t, err)
		err = uow.Commit(ctx, tx)
		require.Error(t, err)
		assert.Equal(t, KindNotFound, KindOf(err))
	})

	t.Run("rejects bad input", func(t *testing.T) {
		repo := NewRepository(database.NewUnitOfWork(&statusDB{tx: &statusTx{}}, nil, nil))
		assert.Equal(t, KindInvalid, KindOf(repo.MarkStatus(uuid.Nil, StatusPaid)))
		assert.Equal(t, KindInvalid, KindOf(repo.MarkStatus(orderID, Status("lost"))))
		assert.Equal(t, 0, repo.UnitOfWork().Pending())
	})
}
