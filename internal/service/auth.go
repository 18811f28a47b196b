package service

import (
	"context"

	"github.com/pkg/errors"

	"tablepos/internal/domain"
)

// Identity источник текущего актёра запроса
type Identity interface {
	CurrentActor(ctx context.Context) (domain.Actor, error)
}

// authorize проверяет роль до любого обращения к состоянию
func authorize(ctx context.Context, id Identity, min domain.Role) (domain.Actor, error) {
	if id == nil {
		return domain.Actor{}, errors.WithMessage(ErrUnauthorized, "no identity provider")
	}
	actor, err := id.CurrentActor(ctx)
	if err != nil {
		return domain.Actor{}, errors.WithMessage(ErrUnauthorized, err.Error())
	}
	if !actor.Role.AtLeast(min) {
		return domain.Actor{}, errors.WithMessagef(ErrUnauthorized, "role %q, need %q", actor.Role, min)
	}
	return actor, nil
}

func checkTenant(actor domain.Actor, tenantID int64) error {
	if actor.TenantID != tenantID {
		return errors.WithMessage(ErrUnauthorized, "tenant mismatch")
	}
	return nil
}
