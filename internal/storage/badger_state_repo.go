package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v3"

	"github.com/annel0/mistborn/internal/allomancy"
)

// BadgerStateRepo хранит алломантические записи в BadgerDB (JSON по ключу allomancy:<owner>)
type BadgerStateRepo struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool
}

// NewBadgerStateRepo открывает хранилище в dataPath/allomancy
func NewBadgerStateRepo(dataPath string) (*BadgerStateRepo, error) {
	dbPath := filepath.Join(dataPath, allomancy.RecordNamespace)
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &BadgerStateRepo{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
	}, nil
}

// Close закрывает хранилище данных
func (r *BadgerStateRepo) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.isReady {
		return nil
	}

	r.isReady = false
	return r.db.Close()
}

func (r *BadgerStateRepo) ready() error {
	if !r.isReady {
		return fmt.Errorf("хранилище не готово")
	}
	return nil
}

// Save сохраняет запись владельца
func (r *BadgerStateRepo) Save(ctx context.Context, ownerID uint64, rec allomancy.Record) error {
	if err := validateOwner(ownerID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if err := r.ready(); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ошибка сериализации записи: %w", err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stateKey(ownerID), data)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения записи владельца %d: %w", ownerID, err)
	}
	return nil
}

// Load загружает запись владельца
func (r *BadgerStateRepo) Load(ctx context.Context, ownerID uint64) (allomancy.Record, bool, error) {
	if err := validateOwner(ownerID); err != nil {
		return allomancy.Record{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return allomancy.Record{}, false, err
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if err := r.ready(); err != nil {
		return allomancy.Record{}, false, err
	}

	var data []byte
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stateKey(ownerID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		// Записи нет, первый вход игрока
		return allomancy.Record{}, false, nil
	}
	if err != nil {
		return allomancy.Record{}, false, fmt.Errorf("ошибка загрузки записи владельца %d: %w", ownerID, err)
	}

	var rec allomancy.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return allomancy.Record{}, false, fmt.Errorf("ошибка десериализации записи: %w", err)
	}
	return rec, true, nil
}

// Delete удаляет запись владельца
func (r *BadgerStateRepo) Delete(ctx context.Context, ownerID uint64) error {
	if err := validateOwner(ownerID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if err := r.ready(); err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(stateKey(ownerID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("запись для владельца %d не найдена", ownerID)
			}
			return err
		}
		return txn.Delete(stateKey(ownerID))
	})
}

// BatchSave сохраняет записи одной пачкой через WriteBatch
func (r *BadgerStateRepo) BatchSave(ctx context.Context, records map[uint64]allomancy.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if err := r.ready(); err != nil {
		return err
	}

	wb := r.db.NewWriteBatch()
	defer wb.Cancel()

	for ownerID, rec := range records {
		if err := validateOwner(ownerID); err != nil {
			return fmt.Errorf("batch: %w", err)
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("ошибка сериализации записи владельца %d: %w", ownerID, err)
		}
		if err := wb.Set(stateKey(ownerID), data); err != nil {
			return fmt.Errorf("ошибка записи владельца %d в batch: %w", ownerID, err)
		}
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("ошибка фиксации batch: %w", err)
	}
	return nil
}
