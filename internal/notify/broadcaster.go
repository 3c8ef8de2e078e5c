// Package notify publishes depth-cache lifecycle transitions to a NATS
// JetStream subject, grounded on the teacher's internal/pubsub.Publisher.
package notify

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Event is the JSON envelope published for every lifecycle transition.
type Event struct {
	Market    string `json:"market"`
	Event     string `json:"event"`
	Timestamp int64  `json:"timestamp"`
	Reason    string `json:"reason,omitempty"`
}

const (
	eventSynchronized   = "synchronized"
	eventDesynchronized = "desynchronized"
	eventStopped        = "stopped"
)

// Broadcaster publishes Event envelopes to a JetStream subject. A publish
// that cannot be encoded or enqueued is logged at warn and otherwise
// swallowed; acknowledgements are not awaited, so a failure reported only
// through the ack is not observed. The dispatch loop never blocks or fails
// on a broadcaster problem.
type Broadcaster struct {
	js      nats.JetStreamContext
	subject string
	log     zerolog.Logger
}

// NewBroadcaster wraps an already-connected *nats.Conn. subject is the
// NATS subject every lifecycle event is published to.
func NewBroadcaster(conn *nats.Conn, subject string, log zerolog.Logger) (*Broadcaster, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, err
	}
	return &Broadcaster{js: js, subject: subject, log: log}, nil
}

func (b *Broadcaster) publish(market, event, reason string) {
	envelope := Event{Market: market, Event: event, Timestamp: time.Now().UnixMilli()}
	if reason != "" {
		envelope.Reason = reason
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		b.log.Warn().Err(err).Str("market", market).Msg("lifecycle event encode failed")
		return
	}
	if _, err := b.js.PublishAsync(b.subject, data); err != nil {
		b.log.Warn().Err(err).Str("market", market).Msg("lifecycle event publish failed")
	}
}

func (b *Broadcaster) NotifySynchronized(market string) {
	b.publish(market, eventSynchronized, "")
}

func (b *Broadcaster) NotifyDesynchronized(market string, reason error) {
	msg := ""
	if reason != nil {
		msg = reason.Error()
	}
	b.publish(market, eventDesynchronized, msg)
}

func (b *Broadcaster) NotifyStopped(market string) {
	b.publish(market, eventStopped, "")
}
