package service

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"tablepos/internal/domain"
	"tablepos/internal/repository"
)

// InventoryService учёт ограниченных остатков. Единственное место,
// где решается, можно ли выдать запрошенное количество.
type InventoryService struct {
	repos    repository.Repositories
	identity Identity
	events   eventOutbox
}

func NewInventoryService(repos repository.Repositories, identity Identity, notifier Notifier) *InventoryService {
	return &InventoryService{
		repos:    repos,
		identity: identity,
		events:   eventOutbox{repo: repos.Outbox, notifier: notifier},
	}
}

// Reservation результат резервирования
type Reservation struct {
	ProductID int64 `json:"product_id,string"`
	Quantity  int64 `json:"quantity"`
	OK        bool  `json:"ok"`
	// Remaining nil для товара без ограничения
	Remaining *int64 `json:"remaining,omitempty"`
}

// InventoryView остаток и флаг доступности
type InventoryView struct {
	ProductID int64                  `json:"product_id,string"`
	Tracked   bool                   `json:"tracked"`
	Available bool                   `json:"available"`
	Entry     *domain.InventoryEntry `json:"entry,omitempty"`
}

// reserve атомарно списывает quantity, если хватает остатка. Вызывается внутри транзакции.
// Нехватка не ошибка: OK=false, решение принимает вызывающий.
func (s *InventoryService) reserve(ctx context.Context, actor domain.Actor, productID, quantity int64) (Reservation, error) {
	r := Reservation{ProductID: productID, Quantity: quantity}
	e, err := s.repos.Inventory.GetForUpdate(ctx, productID)
	if errors.Is(err, repository.ErrNotFound) {
		r.OK = true
		return r, nil
	}
	if err != nil {
		return r, err
	}
	if e.RemainingQuantity < quantity {
		remaining := e.RemainingQuantity
		r.Remaining = &remaining
		return r, nil
	}
	e.RemainingQuantity -= quantity
	e.LastUpdatedBy = actor.ID
	if err := s.repos.Inventory.Save(ctx, e); err != nil {
		return r, err
	}
	remaining := e.RemainingQuantity
	r.OK = true
	r.Remaining = &remaining
	if remaining == 0 {
		if err := s.markDepleted(ctx, actor, productID, e.Note); err != nil {
			return r, err
		}
	}
	return r, nil
}

// release возвращает quantity на склад. Для неотслеживаемого товара ничего не делает.
func (s *InventoryService) release(ctx context.Context, actor domain.Actor, productID, quantity int64) (*domain.InventoryEntry, error) {
	if quantity <= 0 {
		return nil, nil
	}
	e, err := s.repos.Inventory.GetForUpdate(ctx, productID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	wasZero := e.RemainingQuantity == 0
	e.RemainingQuantity += quantity
	e.LastUpdatedBy = actor.ID
	if err := s.repos.Inventory.Save(ctx, e); err != nil {
		return nil, err
	}
	if wasZero {
		if err := s.markRestored(ctx, actor, productID, e.RemainingQuantity); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// setLimit задаёт остаток; 0 снимает товар с продажи, >0 возвращает
func (s *InventoryService) setLimit(ctx context.Context, actor domain.Actor, productID, quantity int64, note string) (*domain.InventoryEntry, error) {
	e, err := s.repos.Inventory.GetForUpdate(ctx, productID)
	if errors.Is(err, repository.ErrNotFound) {
		e = &domain.InventoryEntry{ProductID: productID}
	} else if err != nil {
		return nil, err
	}
	e.RemainingQuantity = quantity
	e.Note = note
	e.LastUpdatedBy = actor.ID
	if err := s.repos.Inventory.Save(ctx, e); err != nil {
		return nil, err
	}
	if quantity == 0 {
		err = s.markDepleted(ctx, actor, productID, note)
	} else {
		err = s.markRestored(ctx, actor, productID, quantity)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// markDepleted сбрасывает флаг и публикует событие только при смене флага
func (s *InventoryService) markDepleted(ctx context.Context, actor domain.Actor, productID int64, note string) error {
	available, err := s.repos.Inventory.IsAvailable(ctx, productID)
	if err != nil {
		return err
	}
	if !available {
		return nil
	}
	if err := s.repos.Inventory.SetAvailable(ctx, productID, false); err != nil {
		return err
	}
	zap.L().Info("product depleted",
		zap.Int64("product_id", productID),
		zap.Int64("actor", actor.ID),
		zap.Int64("tenant_id", actor.TenantID),
	)
	return s.events.add(ctx, domain.AllTenants, domain.StockDepleted{ProductID: productID, Note: note})
}

func (s *InventoryService) markRestored(ctx context.Context, actor domain.Actor, productID, remaining int64) error {
	available, err := s.repos.Inventory.IsAvailable(ctx, productID)
	if err != nil {
		return err
	}
	if available {
		return nil
	}
	if err := s.repos.Inventory.SetAvailable(ctx, productID, true); err != nil {
		return err
	}
	zap.L().Info("product restored",
		zap.Int64("product_id", productID),
		zap.Int64("remaining", remaining),
		zap.Int64("actor", actor.ID),
	)
	return s.events.add(ctx, domain.AllTenants, domain.StockRestored{ProductID: productID, Remaining: remaining})
}

// SetLimit задаёт отслеживаемый остаток товара
func (s *InventoryService) SetLimit(ctx context.Context, productID, quantity int64, note string) (*domain.InventoryEntry, error) {
	actor, err := authorize(ctx, s.identity, domain.RoleManager)
	if err != nil {
		return nil, err
	}
	if productID <= 0 || quantity < 0 {
		return nil, invalid("product %d quantity %d", productID, quantity)
	}
	var entry *domain.InventoryEntry
	err = s.repos.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		e, err := s.setLimit(ctx, actor, productID, quantity, note)
		if err != nil {
			return err
		}
		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.events.kick()
	return entry, nil
}

// Reserve резервирует количество; нехватка возвращается как ErrInsufficientStock
func (s *InventoryService) Reserve(ctx context.Context, productID, quantity int64) (*Reservation, error) {
	actor, err := authorize(ctx, s.identity, domain.RoleWaiter)
	if err != nil {
		return nil, err
	}
	if productID <= 0 || quantity <= 0 {
		return nil, invalid("product %d quantity %d", productID, quantity)
	}
	var res Reservation
	err = s.repos.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		r, err := s.reserve(ctx, actor, productID, quantity)
		if err != nil {
			return err
		}
		res = r
		if !r.OK {
			return errors.Wrapf(ErrInsufficientStock, "product %d: requested %d, remaining %d", productID, quantity, *r.Remaining)
		}
		return nil
	})
	if err != nil {
		return &res, err
	}
	s.events.kick()
	return &res, nil
}

// Release возвращает количество на склад
func (s *InventoryService) Release(ctx context.Context, productID, quantity int64) (*InventoryView, error) {
	actor, err := authorize(ctx, s.identity, domain.RoleManager)
	if err != nil {
		return nil, err
	}
	if productID <= 0 || quantity <= 0 {
		return nil, invalid("product %d quantity %d", productID, quantity)
	}
	err = s.repos.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		_, err := s.release(ctx, actor, productID, quantity)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.events.kick()
	return s.view(ctx, productID)
}

// Reset удаляет запись остатка и возвращает неограниченную доступность
func (s *InventoryService) Reset(ctx context.Context, productID int64) error {
	actor, err := authorize(ctx, s.identity, domain.RoleManager)
	if err != nil {
		return err
	}
	if productID <= 0 {
		return invalid("product %d", productID)
	}
	err = s.repos.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.repos.Inventory.Delete(ctx, productID); err != nil {
			return err
		}
		return s.markRestored(ctx, actor, productID, 0)
	})
	if err != nil {
		return err
	}
	s.events.kick()
	return nil
}

// Get возвращает остаток и флаг доступности
func (s *InventoryService) Get(ctx context.Context, productID int64) (*InventoryView, error) {
	if _, err := authorize(ctx, s.identity, domain.RoleGuest); err != nil {
		return nil, err
	}
	if productID <= 0 {
		return nil, invalid("product %d", productID)
	}
	return s.view(ctx, productID)
}

func (s *InventoryService) view(ctx context.Context, productID int64) (*InventoryView, error) {
	v := &InventoryView{ProductID: productID}
	e, err := s.repos.Inventory.Get(ctx, productID)
	switch {
	case err == nil:
		v.Tracked = true
		v.Entry = e
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}
	available, err := s.repos.Inventory.IsAvailable(ctx, productID)
	if err != nil {
		return nil, err
	}
	v.Available = available
	return v, nil
}
