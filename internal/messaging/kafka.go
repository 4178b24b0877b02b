package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

const commitTimeout = 5 * time.Second

// KafkaConfig configures KafkaTransport.
type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	// AutoCreateTopics lets the broker create queues on first use.
	AutoCreateTopics bool
}

// KafkaTransport maps queues onto Kafka topics. Trace headers travel as
// record headers as well as inside the envelope, and a record's offset is
// marked for commit when its delivery is acked.
type KafkaTransport struct {
	cfg      KafkaConfig
	logger   *zap.Logger
	producer *kgo.Client

	mu        sync.Mutex
	consumers []*kgo.Client
	closed    bool
}

var _ Transport = (*KafkaTransport)(nil)

// NewKafkaTransport connects a producer client. Consumer clients are created
// per Subscribe.
func NewKafkaTransport(cfg KafkaConfig, logger *zap.Logger) (*KafkaTransport, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka transport requires at least one broker")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("kafka")

	producer, err := kgo.NewClient(append(baseOpts(cfg, logger),
		kgo.RecordRetries(5),
		kgo.RequestRetries(5),
	)...)
	if err != nil {
		return nil, errors.Wrap(err, "create kafka producer")
	}
	return &KafkaTransport{cfg: cfg, logger: logger, producer: producer}, nil
}

func baseOpts(cfg KafkaConfig, logger *zap.Logger) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.WithLogger(kgoLogger{logger: logger}),
	}
	if cfg.AutoCreateTopics {
		opts = append(opts, kgo.AllowAutoTopicCreation())
	}
	return opts
}

// Send produces body to the queue topic and waits for the broker ack.
func (t *KafkaTransport) Send(ctx context.Context, queue string, body []byte, headers map[string]string) error {
	rec := &kgo.Record{Topic: queue, Value: body}
	for k, v := range headers {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	if err := t.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return errors.Wrapf(err, "produce to %s", queue)
	}
	return nil
}

// Subscribe joins the consumer group on the queue topic. Deliveries may be
// acked in any order; a partition's offset only advances past records that
// are all acked.
func (t *KafkaTransport) Subscribe(ctx context.Context, queue string) (<-chan *Delivery, error) {
	if t.cfg.ConsumerGroup == "" {
		return nil, errors.New("kafka subscribe requires a consumer group")
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	offsets := newOffsetTracker()
	client, err := kgo.NewClient(append(baseOpts(t.cfg, t.logger),
		kgo.ConsumerGroup(t.cfg.ConsumerGroup),
		kgo.ConsumeTopics(queue),
		kgo.AutoCommitMarks(),
		kgo.OnPartitionsRevoked(func(_ context.Context, _ *kgo.Client, revoked map[string][]int32) {
			offsets.forget(revoked)
		}),
		kgo.OnPartitionsLost(func(_ context.Context, _ *kgo.Client, lost map[string][]int32) {
			offsets.forget(lost)
		}),
	)...)
	if err != nil {
		t.mu.Unlock()
		return nil, errors.Wrapf(err, "create kafka consumer for %s", queue)
	}
	t.consumers = append(t.consumers, client)
	t.mu.Unlock()

	out := make(chan *Delivery)
	go func() {
		defer close(out)
		for {
			fetches := client.PollFetches(ctx)
			if fetches.IsClientClosed() || ctx.Err() != nil {
				return
			}
			for _, fe := range fetches.Errors() {
				t.logger.Warn("fetch failed",
					zap.String("topic", fe.Topic),
					zap.Int32("partition", fe.Partition),
					zap.Error(fe.Err),
				)
			}

			iter := fetches.RecordIter()
			for !iter.Done() {
				rec := iter.Next()
				headers := make(map[string]any, len(rec.Headers))
				for _, h := range rec.Headers {
					headers[h.Key] = h.Value
				}
				offsets.track(rec)
				d := NewDelivery(queue, rec.Value, headers, func() {
					if mark := offsets.ack(rec); mark != nil {
						client.MarkCommitRecords(mark)
					}
				})
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close commits marked offsets and disconnects every client.
func (t *KafkaTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	var errs error
	for _, c := range t.consumers {
		ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
		if err := c.CommitMarkedOffsets(ctx); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrap(err, "commit marked offsets"))
		}
		cancel()
		c.Close()
	}
	t.producer.Close()
	return errs
}

type topicPartition struct {
	topic     string
	partition int32
}

type pendingRecord struct {
	rec   *kgo.Record
	acked bool
}

// offsetTracker holds the records handed out per partition in fetch order.
// ack returns the newest record below which every record is acked, which
// is the only one safe to mark.
type offsetTracker struct {
	mu      sync.Mutex
	pending map[topicPartition][]*pendingRecord
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{pending: make(map[topicPartition][]*pendingRecord)}
}

func (o *offsetTracker) track(rec *kgo.Record) {
	o.mu.Lock()
	defer o.mu.Unlock()
	tp := topicPartition{rec.Topic, rec.Partition}
	o.pending[tp] = append(o.pending[tp], &pendingRecord{rec: rec})
}

func (o *offsetTracker) ack(rec *kgo.Record) *kgo.Record {
	o.mu.Lock()
	defer o.mu.Unlock()

	tp := topicPartition{rec.Topic, rec.Partition}
	queue := o.pending[tp]
	for _, p := range queue {
		if p.rec == rec {
			p.acked = true
			break
		}
	}

	var mark *kgo.Record
	n := 0
	for n < len(queue) && queue[n].acked {
		mark = queue[n].rec
		n++
	}
	if n == len(queue) {
		delete(o.pending, tp)
	} else {
		o.pending[tp] = queue[n:]
	}
	return mark
}

// forget drops partitions this member no longer owns. Acks for their
// records become no-ops.
func (o *offsetTracker) forget(partitions map[string][]int32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for topic, ps := range partitions {
		for _, p := range ps {
			delete(o.pending, topicPartition{topic, p})
		}
	}
}

type kgoLogger struct {
	logger *zap.Logger
}

func (l kgoLogger) Level() kgo.LogLevel {
	if l.logger.Core().Enabled(zap.DebugLevel) {
		return kgo.LogLevelDebug
	}
	return kgo.LogLevelInfo
}

func (l kgoLogger) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	fields := make([]zap.Field, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, keyvals[i+1]))
	}
	switch level {
	case kgo.LogLevelError:
		l.logger.Error(msg, fields...)
	case kgo.LogLevelWarn:
		l.logger.Warn(msg, fields...)
	case kgo.LogLevelInfo:
		l.logger.Info(msg, fields...)
	default:
		l.logger.Debug(msg, fields...)
	}
}
