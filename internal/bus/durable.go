package bus

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/loomvoice/agentcore/internal/domain"
)

// Durable stream/subject names for the three persisted event topics.
const (
	StreamConversation = "CONVERSATION_EVENTS"
	StreamAnalytics    = "ANALYTICS_EVENTS"
	StreamAudit        = "AUDIT_EVENTS"

	TopicConversationEvents = "events.conversation"
	TopicAnalyticsEvents    = "events.analytics"
	TopicAuditEvents        = "events.audit"

	// Dead-letter companions: a message exceeding its consumer's
	// max-deliver count is forwarded here instead of retried forever.
	// Consuming the dead-letter subjects is left to an out-of-band
	// operator process, not this package.
	TopicConversationEventsDLQ = "events.conversation-dlq"
	TopicAnalyticsEventsDLQ    = "events.analytics-dlq"
	TopicAuditEventsDLQ        = "events.audit-dlq"
)

// Durable wraps a JetStream context for the append-only conversation,
// analytics, and audit logs. Unlike Ephemeral, messages here are
// acknowledged explicitly and redelivered up to RedeliverMax times before
// landing on a dead-letter subject.
type Durable struct {
	conn         *nats.Conn
	js           jetstream.JetStream
	router       *Router
	redeliverMax int
}

// ConnectDurable dials the durable bus and ensures the three streams exist,
// creating them on demand if this is the first process to connect.
func ConnectDurable(ctx context.Context, url, serviceName string, redeliverMax int) (*Durable, error) {
	conn, err := nats.Connect(url, nats.Name(serviceName+"-durable"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrConnectionFailed, err.Error())
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, domain.NewDomainError(domain.ErrConnectionFailed, err.Error())
	}

	d := &Durable{conn: conn, js: js, router: NewRouter(serviceName), redeliverMax: redeliverMax}

	streams := []struct {
		name     string
		subjects []string
	}{
		{StreamConversation, []string{TopicConversationEvents + ".>", TopicConversationEventsDLQ}},
		{StreamAnalytics, []string{TopicAnalyticsEvents + ".>", TopicAnalyticsEventsDLQ}},
		{StreamAudit, []string{TopicAuditEvents + ".>", TopicAuditEventsDLQ}},
	}
	for _, s := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      s.name,
			Subjects:  s.subjects,
			Retention: jetstream.LimitsPolicy,
			Storage:   jetstream.FileStorage,
			MaxAge:    30 * 24 * time.Hour,
		}); err != nil {
			conn.Close()
			return nil, domain.NewDomainError(domain.ErrConnectionFailed, fmt.Sprintf("stream %s: %v", s.name, err))
		}
	}

	return d, nil
}

func (d *Durable) Close() {
	if d.conn != nil {
		_ = d.conn.Drain()
	}
}

// Produce publishes one envelope to subject (one of the events.* topics)
// and waits for the JetStream ack, so a successful return means the event
// is durably persisted.
func (d *Durable) Produce(ctx context.Context, subject string, payload any, traceID, eventType string) error {
	env, err := d.router.Wrap(payload, traceID, eventType)
	if err != nil {
		return err
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}
	if _, err := d.js.Publish(ctx, subject, data); err != nil {
		return domain.NewDomainError(domain.ErrProducerError, err.Error())
	}
	return nil
}

// ProduceConversationEvent is a convenience wrapper for turn/session
// lifecycle events on the conversation log.
func (d *Durable) ProduceConversationEvent(ctx context.Context, conversationID string, payload any, eventType string) error {
	subject := fmt.Sprintf("%s.%s", TopicConversationEvents, conversationID)
	return d.Produce(ctx, subject, payload, "", eventType)
}

// ProduceAnalytics is a convenience wrapper for latency/quality rollups.
func (d *Durable) ProduceAnalytics(ctx context.Context, metric string, payload any) error {
	subject := fmt.Sprintf("%s.%s", TopicAnalyticsEvents, metric)
	return d.Produce(ctx, subject, payload, "", metric)
}

// ProduceAudit is a convenience wrapper for audit events (voice.Manager
// publishes session create and delete actions through it), keyed by
// userID so the audit log partitions the same way events/conversations
// partitions by session_id.
func (d *Durable) ProduceAudit(ctx context.Context, userID, action, resource string, data any) error {
	subject := fmt.Sprintf("%s.%s", TopicAuditEvents, userID)
	payload := map[string]any{
		"user_id":  userID,
		"action":   action,
		"resource": resource,
		"data":     data,
	}
	return d.Produce(ctx, subject, payload, "", action)
}

// ConsumeHandler processes one durable message. Returning nil acks it;
// returning an error nacks it for redelivery, up to the consumer's
// configured max-deliver before it is terminated (dead-lettered).
type ConsumeHandler func(ctx context.Context, env *Envelope) error

// Consume creates (or reuses) a durable pull consumer named consumerName on
// streamName and processes messages one at a time until ctx is canceled.
// A message still failing after the consumer's max-deliver count is
// forwarded to dlqSubject (one of the TopicXEventsDLQ constants) rather
// than retried forever.
func (d *Durable) Consume(ctx context.Context, streamName, consumerName, filterSubject, dlqSubject string, handler ConsumeHandler) error {
	stream, err := d.js.Stream(ctx, streamName)
	if err != nil {
		return domain.NewDomainError(domain.ErrConnectionFailed, err.Error())
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: filterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    d.redeliverMax,
		AckWait:       30 * time.Second,
	})
	if err != nil {
		return domain.NewDomainError(domain.ErrConnectionFailed, err.Error())
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msgs, err := cons.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[bus.Durable] fetch from %s/%s failed: %v", streamName, consumerName, err)
			continue
		}

		for msg := range msgs.Messages() {
			env, parseErr := ParseEnvelope(msg.Data())
			if parseErr != nil {
				log.Printf("[bus.Durable] terminating malformed message on %s: %v", streamName, parseErr)
				_ = msg.Term()
				continue
			}

			if handlerErr := handler(ctx, env); handlerErr != nil {
				meta, _ := msg.Metadata()
				if meta != nil && int(meta.NumDelivered) >= d.redeliverMax {
					log.Printf("[bus.Durable] max redeliver reached on %s, dead-lettering to %s: %v", streamName, dlqSubject, handlerErr)
					if _, pubErr := d.js.Publish(ctx, dlqSubject, msg.Data()); pubErr != nil {
						log.Printf("[bus.Durable] failed to forward to dead-letter subject %s: %v", dlqSubject, pubErr)
					}
					_ = msg.Term()
				} else {
					_ = msg.Nak()
				}
				continue
			}
			_ = msg.Ack()
		}
	}
}
