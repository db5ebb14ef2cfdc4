package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wemod/internal/transport"
)

// AuditedClient records every state-changing request passing through it.
// Reads are forwarded untouched.
type AuditedClient struct {
	next   transport.Client
	ledger *Ledger
}

// NewAuditedClient wraps next.
func NewAuditedClient(next transport.Client, l *Ledger) *AuditedClient {
	return &AuditedClient{next: next, ledger: l}
}

// SendCommand implements transport.Client.
func (c *AuditedClient) SendCommand(ctx context.Context, ref transport.Ref, service, action string, payload transport.Payload) (transport.Response, error) {
	resp, err := c.next.SendCommand(ctx, ref, service, action, payload)
	if !strings.HasPrefix(action, "Set") {
		return resp, err
	}

	deviceID := transport.DeviceFromContext(ctx)
	if deviceID == "" {
		deviceID = ref.String()
	}
	entry := Entry{
		EventType:      EventCommandSent,
		Timestamp:      time.Now(),
		DeviceID:       deviceID,
		Action:         action,
		Payload:        payload,
		IdempotencyKey: uuid.NewString(),
	}
	if err != nil {
		entry.EventType = EventCommandFailed
		entry.Error = err.Error()
	}

	if lerr := c.ledger.Append(entry); lerr != nil {
		log.Warn().Err(lerr).Str("device", deviceID).Str("action", action).Msg("Failed to record command")
	}
	return resp, err
}
