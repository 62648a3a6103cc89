// Package bus implements the envelope/subject router, the ephemeral
// request/reply client, and the durable log client.
package bus

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loomvoice/agentcore/internal/domain"
)

// Envelope wraps every inter-service message with uniform metadata. It is
// JSON-encoded on the wire: the bus payloads here cross NATS subject/topic
// boundaries where JSON request/reply is the ecosystem norm, unlike the
// msgpack framing used for the browser-facing WebSocket protocol this
// project does not carry forward.
type Envelope struct {
	Timestamp time.Time       `json:"timestamp"`
	TraceID   string          `json:"trace_id"`
	Service   string          `json:"service"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	Error     *EnvelopeError  `json:"error,omitempty"`
}

// EnvelopeError is carried when a request/reply round trip failed remotely;
// Ephemeral.Request surfaces it to the caller as domain.ErrRemoteError.
type EnvelopeError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Router validates subjects/topics against the compiled prefix set and
// wraps/parses envelopes on behalf of the ephemeral and durable clients.
type Router struct {
	serviceName string
}

func NewRouter(serviceName string) *Router {
	return &Router{serviceName: serviceName}
}

// allowedPrefixes is the compiled set of valid ephemeral-bus subject
// prefixes. Unknown prefixes are a typed InvalidSubject outcome rather than
// a runtime reflection pass over message shape.
var allowedPrefixes = []string{
	"agent.voice.",
	"agent.brain.",
	"agent.tts.",
	"agent.stt.",
	"system.health.",
	"system.service.",
}

// ValidateSubject succeeds iff subject matches one of the allowed prefixes.
func ValidateSubject(subject string) error {
	for _, p := range allowedPrefixes {
		if len(subject) >= len(p) && subject[:len(p)] == p {
			return nil
		}
	}
	return domain.NewDomainErrorWithCode(domain.ErrInvalidSubject, subject, "InvalidSubject")
}

// Wrap fills timestamp/trace/service metadata around payload and marshals
// it to JSON. traceID is generated if empty.
func (r *Router) Wrap(payload any, traceID, eventType string) (*Envelope, error) {
	if traceID == "" {
		traceID = newTraceID()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrMalformedMessage, err.Error())
	}
	return &Envelope{
		Timestamp: time.Now().UTC(),
		TraceID:   traceID,
		Service:   r.serviceName,
		EventType: eventType,
		Payload:   body,
	}, nil
}

// Encode marshals the envelope to bytes for transport.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrMalformedMessage, err.Error())
	}
	return data, nil
}

// ParseEnvelope decodes bytes into an Envelope, failing with
// MalformedMessage on a decode error.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, domain.NewDomainError(domain.ErrMalformedMessage, err.Error())
	}
	return &e, nil
}

// DecodeBody unmarshals the envelope's payload into T.
func DecodeBody[T any](e *Envelope) (T, error) {
	var out T
	if len(e.Payload) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(e.Payload, &out); err != nil {
		return out, domain.NewDomainError(domain.ErrMalformedMessage, err.Error())
	}
	return out, nil
}

// HasError reports whether the reply envelope carried a remote error.
func (e *Envelope) HasError() bool {
	return e.Error != nil
}

func newTraceID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
