package messaging

import (
	"encoding/json"
	"time"

	"github.com/GriffinCanCode/orderflow/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/orderflow/internal/messages"
	"github.com/GriffinCanCode/orderflow/internal/shared/id"
	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"
)

// Envelope is what travels on the bus: a typed payload plus the header
// carrier. CorrelationID and Headers are separate fields; the trace context
// lives only in Headers unless legacy correlation is switched on.
type Envelope struct {
	MessageID     id.MessageID     `json:"messageId"`
	MessageType   string           `json:"messageType"`
	CorrelationID id.CorrelationID `json:"correlationId,omitempty"`
	Headers       tracing.Carrier  `json:"headers,omitempty"`
	Payload       json.RawMessage  `json:"payload"`
	SentAt        time.Time        `json:"sentAt"`
}

// NewEnvelope wraps msg with a fresh message id.
func NewEnvelope(msg messages.Message, correlationID id.CorrelationID) (*Envelope, error) {
	if msg == nil {
		return nil, errors.New("nil message")
	}
	payload, err := sonic.Marshal(msg)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", msg.MessageType())
	}
	return &Envelope{
		MessageID:     id.NewMessageID(),
		MessageType:   msg.MessageType(),
		CorrelationID: correlationID,
		Headers:       tracing.Carrier{},
		Payload:       payload,
		SentAt:        time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload as T. A type mismatch is permanent: no retry
// will make it decode.
func Decode[T messages.Message](env *Envelope) (T, error) {
	var msg T
	if env == nil {
		return msg, Permanent(errors.New("nil envelope"))
	}
	if env.MessageType != msg.MessageType() {
		return msg, Permanent(errors.Newf("message type %q, want %q", env.MessageType, msg.MessageType()))
	}
	if err := sonic.Unmarshal(env.Payload, &msg); err != nil {
		return msg, Permanent(errors.Wrapf(err, "decode %s", env.MessageType))
	}
	return msg, nil
}
