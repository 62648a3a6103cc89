package bus

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loomvoice/agentcore/internal/adapters/retry"
	"github.com/loomvoice/agentcore/internal/domain"
)

// Ephemeral is the request/reply client over the low-latency NATS core
// bus: voice<->brain<->tts<->stt RPC traffic and heartbeats. Nothing
// published here survives a restart; durable conversation/analytics/audit
// events go through Durable instead.
type Ephemeral struct {
	conn   *nats.Conn
	router *Router
}

// ConnectEphemeral dials the ephemeral bus, retrying the initial connect
// with bounded exponential backoff before giving up.
func ConnectEphemeral(ctx context.Context, url, serviceName string) (*Ephemeral, error) {
	var conn *nats.Conn
	cfg := retry.BackoffConfig{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		MaxRetries:      5,
		Multiplier:      2.0,
	}

	err := retry.WithBackoff(ctx, cfg, func() error {
		c, dialErr := nats.Connect(url,
			nats.Name(serviceName),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					log.Printf("[bus.Ephemeral] disconnected: %v", err)
				}
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Printf("[bus.Ephemeral] reconnected to %s", nc.ConnectedUrl())
			}),
		)
		if dialErr != nil {
			return dialErr
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrConnectionFailed, err.Error())
	}

	return &Ephemeral{conn: conn, router: NewRouter(serviceName)}, nil
}

// Close drains and closes the underlying connection.
func (e *Ephemeral) Close() {
	if e.conn != nil {
		_ = e.conn.Drain()
	}
}

// IsConnected reports whether the underlying NATS connection is currently
// up, for wiring into the /health endpoint's bus field.
func (e *Ephemeral) IsConnected() bool {
	return e.conn != nil && e.conn.IsConnected()
}

// Publish validates subject then fires payload without waiting for a reply.
func (e *Ephemeral) Publish(subject string, payload any, traceID, eventType string) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	env, err := e.router.Wrap(payload, traceID, eventType)
	if err != nil {
		return err
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}
	if err := e.conn.Publish(subject, data); err != nil {
		return domain.NewDomainError(domain.ErrConnectionFailed, err.Error())
	}
	return nil
}

// Request sends payload on subject and blocks for a reply within timeout.
// A remote-side error envelope and a network timeout both surface as
// domain.ErrTimeout / domain.ErrRemoteError so callers' fallback handling
// treats them uniformly.
func (e *Ephemeral) Request(ctx context.Context, subject string, payload any, traceID, eventType string, timeout time.Duration) (*Envelope, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	env, err := e.router.Wrap(payload, traceID, eventType)
	if err != nil {
		return nil, err
	}
	data, err := env.Encode()
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := e.conn.RequestWithContext(reqCtx, subject, data)
	if err != nil {
		if err == nats.ErrTimeout || reqCtx.Err() != nil {
			return nil, domain.NewDomainError(domain.ErrTimeout, fmt.Sprintf("%s: %v", subject, err))
		}
		return nil, domain.NewDomainError(domain.ErrConnectionFailed, err.Error())
	}

	reply, err := ParseEnvelope(msg.Data)
	if err != nil {
		return nil, err
	}
	if reply.HasError() {
		return reply, domain.NewDomainErrorWithCode(domain.ErrRemoteError, reply.Error.Message, reply.Error.Kind)
	}
	return reply, nil
}

// Handler processes one inbound envelope and optionally returns a reply
// payload. Returning a non-nil error causes an error envelope to be sent
// back to the requester instead.
type Handler func(ctx context.Context, env *Envelope) (any, error)

// Subscribe registers handler against subject; replies (if any) flow back
// through NATS reply-subject semantics automatically.
func (e *Ephemeral) Subscribe(subject string, handler Handler) (*nats.Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	sub, err := e.conn.Subscribe(subject, func(msg *nats.Msg) {
		env, err := ParseEnvelope(msg.Data)
		if err != nil {
			log.Printf("[bus.Ephemeral] malformed message on %s: %v", subject, err)
			return
		}

		ctx := context.Background()
		result, handlerErr := handler(ctx, env)
		if msg.Reply == "" {
			return
		}

		var replyEnv *Envelope
		if handlerErr != nil {
			replyEnv = &Envelope{
				Timestamp: time.Now().UTC(),
				TraceID:   env.TraceID,
				Service:   e.router.serviceName,
				EventType: env.EventType,
				Error:     &EnvelopeError{Kind: "RemoteError", Message: handlerErr.Error()},
			}
		} else {
			replyEnv, err = e.router.Wrap(result, env.TraceID, env.EventType)
			if err != nil {
				log.Printf("[bus.Ephemeral] failed to wrap reply on %s: %v", subject, err)
				return
			}
		}

		data, err := replyEnv.Encode()
		if err != nil {
			log.Printf("[bus.Ephemeral] failed to encode reply on %s: %v", subject, err)
			return
		}
		if err := msg.Respond(data); err != nil {
			log.Printf("[bus.Ephemeral] failed to respond on %s: %v", subject, err)
		}
	})
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrConnectionFailed, err.Error())
	}
	return sub, nil
}

// SubjectHeartbeat is the fixed subject every service publishes liveness
// to; consumers distinguish services by the envelope's service field, not
// by subject.
const SubjectHeartbeat = "system.health.heartbeat"

// PublishHeartbeat announces liveness on the fixed system.health.heartbeat
// subject. metrics may be nil, in which case an empty object is sent.
func (e *Ephemeral) PublishHeartbeat(serviceName, status string, metrics map[string]any) error {
	if metrics == nil {
		metrics = map[string]any{}
	}
	return e.Publish(SubjectHeartbeat, map[string]any{
		"service": serviceName,
		"status":  status,
		"metrics": metrics,
	}, "", "heartbeat")
}
