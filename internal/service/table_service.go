package service

import (
	"context"
	"strings"

	"tablepos/internal/domain"
	"tablepos/internal/repository"
)

// TableService столы зала; статус меняется заказами
type TableService struct {
	repos    repository.Repositories
	identity Identity
}

func NewTableService(repos repository.Repositories, identity Identity) *TableService {
	return &TableService{repos: repos, identity: identity}
}

// CreateTable заводит свободный стол
func (s *TableService) CreateTable(ctx context.Context, name string) (*domain.DiningTable, error) {
	actor, err := authorize(ctx, s.identity, domain.RoleManager)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("table name is empty")
	}
	t := &domain.DiningTable{TenantID: actor.TenantID, Name: name, Status: domain.TableStatusFree}
	if err := s.repos.Tables.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *TableService) GetTable(ctx context.Context, id int64) (*domain.DiningTable, error) {
	actor, err := authorize(ctx, s.identity, domain.RoleGuest)
	if err != nil {
		return nil, err
	}
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	t, err := s.repos.Tables.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkTenant(actor, t.TenantID); err != nil {
		return nil, err
	}
	return t, nil
}
