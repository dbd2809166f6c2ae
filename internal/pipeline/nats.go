package pipeline

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/creative-memory-graph/internal/event"
	"github.com/creative-memory-graph/internal/jsonx"
)

const (
	// StreamName is the JetStream stream holding creative events.
	StreamName = "CMG_EVENTS"

	// subjectPattern is the per-user event subject.
	subjectPattern = "cmg.events.%s"
)

// Subscriber feeds events from JetStream into an Ingestor. It is the
// asynchronous intake; producers that want synchronous validation use
// the HTTP endpoint instead.
type Subscriber struct {
	js     nats.JetStreamContext
	in     *Ingestor
	logger *zap.Logger
	sub    *nats.Subscription
}

// NewSubscriber ensures the event stream exists and returns an unstarted
// subscriber.
func NewSubscriber(js nats.JetStreamContext, in *Ingestor, logger *zap.Logger) (*Subscriber, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	_, err := js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{"cmg.events.*"},
		Storage:  nats.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		return nil, fmt.Errorf("ensure event stream: %w", err)
	}

	return &Subscriber{js: js, in: in, logger: logger.Named("nats")}, nil
}

// Start subscribes to the event subjects. Malformed payloads are
// terminated rather than redelivered; transient failures are nacked.
func (s *Subscriber) Start() error {
	sub, err := s.js.Subscribe("cmg.events.*", func(msg *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic in event handler", zap.Any("panic", r))
			}
		}()

		var raw event.RawEvent
		if err := jsonx.Unmarshal(msg.Data, &raw); err != nil {
			s.logger.Warn("undecodable event payload",
				zap.String("subject", msg.Subject),
				zap.Error(err))
			msg.Term()
			return
		}

		if err := s.in.Enqueue(raw); err != nil {
			if event.IsMalformed(err) {
				s.logger.Warn("malformed event from stream",
					zap.String("subject", msg.Subject),
					zap.Error(err))
				msg.Term()
				return
			}
			msg.NakWithDelay(5 * time.Second)
			return
		}
		msg.Ack()
	}, nats.ManualAck())
	if err != nil {
		return fmt.Errorf("subscribe events: %w", err)
	}
	s.sub = sub
	s.logger.Info("event subscriber started", zap.String("stream", StreamName))
	return nil
}

// Stop drains the subscription.
func (s *Subscriber) Stop() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Drain()
}

// PublishEvent publishes a raw event for asynchronous ingestion.
func PublishEvent(js nats.JetStreamContext, raw event.RawEvent) error {
	data, err := jsonx.Marshal(raw)
	if err != nil {
		return err
	}
	_, err = js.Publish(fmt.Sprintf(subjectPattern, raw.UserID), data)
	return err
}
