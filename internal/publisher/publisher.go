package publisher

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"tastygate/internal/metrics"
	"tastygate/pkg/utils"
)

// Event is the canonical lifecycle event envelope published to NATS.
// Tenant keys are previews only; full key material never leaves the process.
type Event struct {
	EventType     string    `json:"event_type"`
	CorrelationID uuid.UUID `json:"correlation_id"`
	Tenant        string    `json:"tenant"`
	Detail        string    `json:"detail,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher emits session/credential lifecycle events on NATS JetStream.
// A nil *Publisher is valid and drops every event, so eventing stays
// optional without conditionals at the call sites.
type Publisher struct {
	js      nats.JetStreamContext
	subject string
	service string
	logger  *zap.Logger
}

// New creates a Publisher on the given subject prefix.
func New(nc *nats.Conn, subjectPrefix, service string, logger *zap.Logger) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &Publisher{
		js:      js,
		subject: subjectPrefix,
		service: service,
		logger:  logger,
	}, nil
}

// SessionRefreshed reports a successful token refresh for a tenant.
func (p *Publisher) SessionRefreshed(tenantKey string, expiresAt time.Time) {
	p.publish("session.refreshed", tenantKey, "expires_at="+expiresAt.UTC().Format(time.RFC3339))
}

// SessionRevoked reports a terminal upstream grant rejection.
func (p *Publisher) SessionRevoked(tenantKey, reason string) {
	p.publish("session.revoked", tenantKey, reason)
}

// CredentialUpdated reports an administrative credential replacement.
func (p *Publisher) CredentialUpdated(tenantKey string) {
	p.publish("credential.updated", tenantKey, "")
}

// CredentialDeleted reports an administrative credential removal.
func (p *Publisher) CredentialDeleted(tenantKey string) {
	p.publish("credential.deleted", tenantKey, "")
}

func (p *Publisher) publish(eventType, tenantKey, detail string) {
	if p == nil {
		return
	}

	env := Event{
		EventType:     eventType,
		CorrelationID: uuid.New(),
		Tenant:        utils.KeyPreview(tenantKey),
		Detail:        detail,
		OccurredAt:    time.Now().UTC(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return
	}

	msg := &nats.Msg{
		Subject: p.subject + "." + eventType,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{eventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
		},
	}

	if _, err := p.js.PublishMsg(msg); err != nil {
		p.logger.Warn("publisher.publish_failed",
			zap.String("subject", msg.Subject),
			zap.Error(err))
		metrics.IncError("publisher", "publish_failed")
	}
}
