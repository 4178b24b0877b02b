package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/orderflow/internal/infrastructure/config"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/database"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/orderflow/internal/messages"
	"github.com/GriffinCanCode/orderflow/internal/messaging"
	"github.com/GriffinCanCode/orderflow/internal/shared/id"
	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

type fixture struct {
	cfg       *config.Config
	tracer    *tracing.Tracer
	recorder  *tracetest.SpanRecorder
	transport *messaging.MemoryTransport
	codec     *messaging.Codec
	publisher *messaging.Publisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tracer, err := tracing.New(context.Background(), tracing.Config{
		ServiceName: "orderflow-worker-test",
		Enabled:     true,
		Exporter:    tracing.ExporterNone,
		SampleRatio: 1,
	}, zap.NewNop(), tracing.WithSpanProcessor(recorder))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tracer.Shutdown(context.Background()) })

	codec, err := messaging.NewCodec(4096)
	require.NoError(t, err)
	t.Cleanup(codec.Close)

	transport := messaging.NewMemoryTransport(16)
	t.Cleanup(func() { _ = transport.Close() })

	cfg := config.Default()
	cfg.Worker.MetricsPort = ""
	cfg.Worker.RetryInterval = time.Millisecond
	cfg.Worker.MaxAttempts = 2

	return &fixture{
		cfg:       cfg,
		tracer:    tracer,
		recorder:  recorder,
		transport: transport,
		codec:     codec,
		publisher: messaging.NewPublisher(messaging.PublisherConfig{}, transport, codec, tracer, nil, zap.NewNop()),
	}
}

func (f *fixture) worker(t *testing.T) *Worker {
	t.Helper()
	w, err := New(f.cfg, Deps{
		Tracer:    f.tracer,
		Transport: f.transport,
		Codec:     f.codec,
		Metrics:   monitoring.NewMetrics("orderflow_worker"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func (f *fixture) start(t *testing.T, w *Worker) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("worker did not stop")
		}
	}
}

func (f *fixture) spanNamed(name string) sdktrace.ReadOnlySpan {
	for _, s := range f.recorder.Ended() {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

func TestWorkerProcessesOrder(t *testing.T) {
	f := newFixture(t)
	w := f.worker(t)
	stop := f.start(t, w)

	orderID := uuid.New()
	cid := id.NewCorrelationID()
	ctx, root := f.tracer.Start(context.Background(), "POST /order", tracing.KindServer)
	_, err := f.publisher.Publish(ctx, f.cfg.Broker.OrderQueue, messages.OrderMessage{
		OrderID:     orderID,
		OrderAmount: 12.5,
		OrderNumber: "ORD-1",
		OrderDate:   time.Now().UTC(),
	}, cid)
	require.NoError(t, err)
	root.End()

	rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d, err := f.transport.Receive(rctx, f.cfg.Broker.NotificationQueue)
	require.NoError(t, err)

	env, err := f.codec.Decode(d.Body)
	require.NoError(t, err)
	n, err := messaging.Decode[messages.Notification](env)
	require.NoError(t, err)

	assert.Equal(t, cid, env.CorrelationID)
	assert.Equal(t, "Order: ORD-1", n.Content)
	assert.Equal(t, "testing@domain.com", n.Address)
	assert.Equal(t, messages.NotificationEmail, n.Type)
	assert.Equal(t, orderID, n.OrderID)
	assert.True(t, id.IsValid(n.NotificationID, id.NotificationPrefix))

	stop()

	consumed := f.spanNamed(f.cfg.Broker.OrderQueue + " process")
	require.NotNil(t, consumed)
	assert.Equal(t, root.SpanContext().TraceID(), consumed.SpanContext().TraceID())

	notified := f.spanNamed(f.cfg.Broker.NotificationQueue + " send")
	require.NotNil(t, notified)
	assert.Equal(t, consumed.SpanContext().SpanID(), notified.Parent().SpanID())
}

func TestWorkerDeadLettersWrongMessageType(t *testing.T) {
	f := newFixture(t)
	w := f.worker(t)
	stop := f.start(t, w)
	defer stop()

	msgID, err := f.publisher.Publish(context.Background(), f.cfg.Broker.OrderQueue, messages.Notification{
		NotificationID: "ntf-1",
	}, id.NewCorrelationID())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		letters, err := w.Inbox().DeadLetters(context.Background())
		return err == nil && len(letters) == 1
	}, 5*time.Second, 10*time.Millisecond)

	letters, err := w.Inbox().DeadLetters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, msgID, letters[0].MessageID)
	assert.Equal(t, 1, letters[0].Attempts)
	assert.Equal(t, messages.TypeNotification, letters[0].MessageType)

	require.Eventually(t, func() bool {
		return f.transport.Len(f.cfg.Broker.DeadLetterQueue) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Zero(t, f.transport.Len(f.cfg.Broker.NotificationQueue))
}

func TestWorkerEndpoints(t *testing.T) {
	f := newFixture(t)
	w := f.worker(t)

	tests := []struct {
		path     string
		contains string
	}{
		{path: "/health", contains: `"status":"healthy"`},
		{path: "/metrics", contains: "orderflow_worker_uptime_seconds"},
		{path: "/deadletters", contains: `"count":0`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			w.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.contains)
		})
	}
}

func TestWorkerHealthReportsOpenNotifier(t *testing.T) {
	f := newFixture(t)
	f.cfg.Notification.WebhookURL = "http://127.0.0.1:1/notify"
	w := f.worker(t)
	require.NotNil(t, w.breaker)

	health := func() string {
		rec := httptest.NewRecorder()
		w.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		return rec.Body.String()
	}
	assert.Contains(t, health(), `"notifier":"closed"`)

	for i := 0; i < webhookTripAfter; i++ {
		_ = w.breaker.Do(context.Background(), func(context.Context) error {
			return errors.New("endpoint down")
		})
	}
	body := health()
	assert.Contains(t, body, `"status":"degraded"`)
	assert.Contains(t, body, `"notifier":"open"`)
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(config.Default(), Deps{})
	assert.Error(t, err)
	_, err = New(nil, Deps{})
	assert.Error(t, err)
}

func TestNewOpensBoltInbox(t *testing.T) {
	f := newFixture(t)
	f.cfg.Worker.InboxPath = t.TempDir() + "/inbox.db"
	w := f.worker(t)

	seen, err := w.Inbox().Seen(context.Background(), id.NewMessageID())
	require.NoError(t, err)
	assert.False(t, seen)
}

type recordingNotifier struct {
	mu   sync.Mutex
	err  error
	sent []messages.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n messages.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type recordingPublisher struct {
	mu     sync.Mutex
	queues []string
	cids   []id.CorrelationID
}

func (p *recordingPublisher) Publish(_ context.Context, queue string, _ messages.Message, cid id.CorrelationID) (id.MessageID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queues = append(p.queues, queue)
	p.cids = append(p.cids, cid)
	return id.NewMessageID(), nil
}

type statusTx struct {
	pgx.Tx
	rows      int64
	args      []any
	committed bool
}

func (t *statusTx) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	t.args = args
	return pgconn.NewCommandTag("UPDATE " + strconv.FormatInt(t.rows, 10)), nil
}

func (t *statusTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *statusTx) Rollback(context.Context) error { return nil }

type statusDB struct {
	database.Querier
	tx *statusTx
}

func (d *statusDB) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	return d.tx, nil
}

func orderEnvelope(t *testing.T, orderID uuid.UUID) *messaging.Envelope {
	t.Helper()
	env, err := messaging.NewEnvelope(messages.OrderMessage{
		OrderID:     orderID,
		OrderAmount: 5,
		OrderNumber: "ORD-7",
		OrderDate:   time.Now().UTC(),
	}, id.NewCorrelationID())
	require.NoError(t, err)
	return env
}

func TestOrderHandler(t *testing.T) {
	cfg := HandlerConfig{NotificationQueue: "notification-queue", Recipient: "buyer@example.com"}

	t.Run("notifies and publishes with the same correlation id", func(t *testing.T) {
		notifier := &recordingNotifier{}
		publisher := &recordingPublisher{}
		h := NewOrderHandler(cfg, notifier, publisher, nil, nil)
		env := orderEnvelope(t, uuid.New())

		require.NoError(t, h.Handle(context.Background(), env))
		require.Equal(t, 1, notifier.count())
		assert.Equal(t, "buyer@example.com", notifier.sent[0].Address)
		assert.Equal(t, []string{"notification-queue"}, publisher.queues)
		assert.Equal(t, []id.CorrelationID{env.CorrelationID}, publisher.cids)
	})

	t.Run("marks stored order awaiting validation", func(t *testing.T) {
		db := &statusDB{tx: &statusTx{rows: 1}}
		h := NewOrderHandler(cfg, &recordingNotifier{}, &recordingPublisher{}, database.NewFactory(db, zap.NewNop(), nil), nil)
		orderID := uuid.New()

		require.NoError(t, h.Handle(context.Background(), orderEnvelope(t, orderID)))
		assert.True(t, db.tx.committed)
		require.Len(t, db.tx.args, 2)
		assert.Equal(t, orderID, db.tx.args[0])
	})

	t.Run("unknown order only warns", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		notifier := &recordingNotifier{}
		db := &statusDB{tx: &statusTx{rows: 0}}
		h := NewOrderHandler(cfg, notifier, &recordingPublisher{}, database.NewFactory(db, zap.NewNop(), nil), zap.New(core))

		require.NoError(t, h.Handle(context.Background(), orderEnvelope(t, uuid.New())))
		assert.Equal(t, 1, notifier.count())
		assert.Equal(t, 1, logs.FilterMessage("order not stored, status unchanged").Len())
	})

	t.Run("notify failure stops before publish", func(t *testing.T) {
		publisher := &recordingPublisher{}
		h := NewOrderHandler(cfg, &recordingNotifier{err: errors.New("smtp down")}, publisher, nil, nil)

		err := h.Handle(context.Background(), orderEnvelope(t, uuid.New()))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "smtp down")
		assert.Empty(t, publisher.queues)
	})

	t.Run("delay honours cancellation", func(t *testing.T) {
		notifier := &recordingNotifier{}
		delayed := cfg
		delayed.ProcessingDelay = time.Hour
		h := NewOrderHandler(delayed, notifier, &recordingPublisher{}, nil, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := h.Handle(ctx, orderEnvelope(t, uuid.New()))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, notifier.count())
	})

	t.Run("wrong message type is permanent", func(t *testing.T) {
		h := NewOrderHandler(cfg, &recordingNotifier{}, &recordingPublisher{}, nil, nil)
		env, err := messaging.NewEnvelope(messages.Notification{NotificationID: "ntf-1"}, "")
		require.NoError(t, err)

		err = h.Handle(context.Background(), env)
		require.Error(t, err)
		assert.True(t, messaging.IsPermanent(err))
	})
}
