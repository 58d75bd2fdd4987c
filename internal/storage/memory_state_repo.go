package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/annel0/mistborn/internal/allomancy"
)

// MemoryStateRepo реализует StateRepo в памяти.
// Используется, когда BadgerDB и MariaDB не настроены, и в тестах.
// ВНИМАНИЕ: Данные теряются при перезапуске сервера!
type MemoryStateRepo struct {
	mu   sync.RWMutex
	data map[uint64]allomancy.Record
}

// NewMemoryStateRepo создает новый репозиторий в памяти
func NewMemoryStateRepo() *MemoryStateRepo {
	return &MemoryStateRepo{
		data: make(map[uint64]allomancy.Record),
	}
}

// Save сохраняет запись в памяти
func (r *MemoryStateRepo) Save(ctx context.Context, ownerID uint64, rec allomancy.Record) error {
	if err := validateOwner(ownerID); err != nil {
		return err
	}

	// Проверяем контекст на отмену
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.data[ownerID] = rec.Clone()
	return nil
}

// Load загружает запись из памяти
func (r *MemoryStateRepo) Load(ctx context.Context, ownerID uint64) (allomancy.Record, bool, error) {
	if err := validateOwner(ownerID); err != nil {
		return allomancy.Record{}, false, err
	}

	select {
	case <-ctx.Done():
		return allomancy.Record{}, false, ctx.Err()
	default:
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.data[ownerID]
	if !exists {
		return allomancy.Record{}, false, nil
	}
	return rec.Clone(), true, nil
}

// Delete удаляет запись из памяти
func (r *MemoryStateRepo) Delete(ctx context.Context, ownerID uint64) error {
	if err := validateOwner(ownerID); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.data[ownerID]; !exists {
		return fmt.Errorf("запись для владельца %d не найдена", ownerID)
	}
	delete(r.data, ownerID)
	return nil
}

// BatchSave сохраняет несколько записей
func (r *MemoryStateRepo) BatchSave(ctx context.Context, records map[uint64]allomancy.Record) error {
	if len(records) == 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// Валидация всех записей перед сохранением
	for ownerID := range records {
		if err := validateOwner(ownerID); err != nil {
			return fmt.Errorf("batch: %w", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for ownerID, rec := range records {
		r.data[ownerID] = rec.Clone()
	}
	return nil
}

// Count возвращает количество сохраненных записей (для отладки)
func (r *MemoryStateRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

// Close ничего не делает
func (r *MemoryStateRepo) Close() error { return nil }
