package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/annel0/mistborn/internal/allomancy"
)

// ErrInvalidOwner нулевой идентификатор владельца
var ErrInvalidOwner = errors.New("недействительный идентификатор владельца")

// StateRepo определяет интерфейс для сохранения и загрузки алломантической записи.
// Записи привязаны к постоянному идентификатору игрока (а не к EntityID),
// поэтому переживают переподключения.
type StateRepo interface {
	// Save сохраняет запись владельца.
	Save(ctx context.Context, ownerID uint64, rec allomancy.Record) error

	// Load загружает запись. bool = false, если записи нет (первый вход).
	Load(ctx context.Context, ownerID uint64) (allomancy.Record, bool, error)

	// Delete удаляет запись (сброс прогресса или тесты).
	Delete(ctx context.Context, ownerID uint64) error

	// BatchSave сохраняет несколько записей (автосохранение).
	BatchSave(ctx context.Context, records map[uint64]allomancy.Record) error

	// Close освобождает ресурсы хранилища.
	Close() error
}

func validateOwner(ownerID uint64) error {
	if ownerID == 0 {
		return fmt.Errorf("%w: %d", ErrInvalidOwner, ownerID)
	}
	return nil
}

// stateKey ключ записи в key-value хранилищах: allomancy:<owner>
func stateKey(ownerID uint64) []byte {
	return []byte(fmt.Sprintf("%s:%d", allomancy.RecordNamespace, ownerID))
}

// Open создает репозиторий по имени бэкенда: badger, maria или memory
func Open(backend, badgerPath, mariaDSN string) (StateRepo, error) {
	switch backend {
	case "badger":
		repo, err := NewBadgerStateRepo(badgerPath)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case "maria", "mysql":
		repo, err := NewMariaStateRepo(mariaDSN)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case "memory", "":
		return NewMemoryStateRepo(), nil
	default:
		return nil, fmt.Errorf("неизвестный бэкенд хранилища: %q", backend)
	}
}
