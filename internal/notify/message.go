package notify

import (
	"context"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"tablepos/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Message событие outbox в виде, отдаваемом получателям
type Message struct {
	ID        int64               `json:"id,string"`
	TenantID  int64               `json:"tenant_id,string"`
	Type      domain.EventType    `json:"type"`
	Targets   []string            `json:"targets"`
	Payload   jsoniter.RawMessage `json:"payload"`
	CreatedAt time.Time           `json:"created_at"`
}

func fromOutbox(ev domain.OutboxEvent) Message {
	var targets []string
	for _, t := range strings.Split(ev.Targets, ",") {
		if t = strings.TrimSpace(t); t != "" {
			targets = append(targets, t)
		}
	}
	return Message{
		ID:        ev.ID,
		TenantID:  ev.TenantID,
		Type:      ev.Type,
		Targets:   targets,
		Payload:   jsoniter.RawMessage(ev.Payload),
		CreatedAt: ev.CreatedAt,
	}
}

// Sink получатель событий. Повторная доставка допустима.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, msg Message) error
}
