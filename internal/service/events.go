package service

import (
	"context"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"tablepos/internal/domain"
	"tablepos/internal/repository"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Notifier будит доставку событий после коммита
type Notifier interface {
	Notify()
}

type eventOutbox struct {
	repo     repository.OutboxRepository
	notifier Notifier
}

// add пишет события в outbox в текущей транзакции
func (e eventOutbox) add(ctx context.Context, tenantID int64, events ...domain.Event) error {
	rows := make([]*domain.OutboxEvent, 0, len(events))
	for _, ev := range events {
		payload, err := json.MarshalToString(ev)
		if err != nil {
			return err
		}
		rows = append(rows, &domain.OutboxEvent{
			TenantID: tenantID,
			Type:     ev.Type(),
			Targets:  strings.Join(ev.Targets(), ","),
			Payload:  payload,
		})
	}
	return e.repo.Append(ctx, rows...)
}

// kick вызывается только после успешного коммита
func (e eventOutbox) kick() {
	if e.notifier != nil {
		e.notifier.Notify()
	}
}
