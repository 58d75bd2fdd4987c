package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/annel0/mistborn/internal/allomancy"
)

// MariaStateRepo реализует StateRepo для MariaDB/MySQL.
// Запись хранится JSON-документом в таблице allomancy_states.
type MariaStateRepo struct {
	db *sql.DB
}

const upsertStateQuery = `
	INSERT INTO allomancy_states (owner_id, record)
	VALUES (?, ?)
	ON DUPLICATE KEY UPDATE
		record = VALUES(record),
		updated_at = CURRENT_TIMESTAMP
`

// NewMariaStateRepo подключается к базе и создает таблицу, если её нет.
//
// dsn - строка подключения (user:pass@tcp(host:port)/dbname)
func NewMariaStateRepo(dsn string) (*MariaStateRepo, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	repo := NewMariaStateRepoWithDB(db)
	if err := repo.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицу: %w", err)
	}

	return repo, nil
}

// NewMariaStateRepoWithDB оборачивает уже открытое соединение
func NewMariaStateRepoWithDB(db *sql.DB) *MariaStateRepo {
	return &MariaStateRepo{db: db}
}

func (r *MariaStateRepo) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS allomancy_states (
			owner_id   BIGINT UNSIGNED PRIMARY KEY,
			record     JSON            NOT NULL,
			updated_at TIMESTAMP       DEFAULT CURRENT_TIMESTAMP
			           ON UPDATE       CURRENT_TIMESTAMP,
			INDEX idx_updated_at (updated_at)
		) ENGINE=InnoDB
	`

	if _, err := r.db.Exec(query); err != nil {
		return fmt.Errorf("ошибка создания таблицы allomancy_states: %w", err)
	}
	return nil
}

// Save сохраняет запись (INSERT ... ON DUPLICATE KEY UPDATE)
func (r *MariaStateRepo) Save(ctx context.Context, ownerID uint64, rec allomancy.Record) error {
	if err := validateOwner(ownerID); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ошибка сериализации записи: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, upsertStateQuery, ownerID, data); err != nil {
		return fmt.Errorf("ошибка сохранения записи владельца %d: %w", ownerID, err)
	}
	return nil
}

// Load загружает запись
func (r *MariaStateRepo) Load(ctx context.Context, ownerID uint64) (allomancy.Record, bool, error) {
	if err := validateOwner(ownerID); err != nil {
		return allomancy.Record{}, false, err
	}

	var data []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT record FROM allomancy_states WHERE owner_id = ?`, ownerID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
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

// Delete удаляет запись
func (r *MariaStateRepo) Delete(ctx context.Context, ownerID uint64) error {
	if err := validateOwner(ownerID); err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM allomancy_states WHERE owner_id = ?`, ownerID)
	if err != nil {
		return fmt.Errorf("ошибка удаления записи владельца %d: %w", ownerID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения количества затронутых строк: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("запись для владельца %d не найдена", ownerID)
	}
	return nil
}

// BatchSave сохраняет записи в одной транзакции
func (r *MariaStateRepo) BatchSave(ctx context.Context, records map[uint64]allomancy.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertStateQuery)
	if err != nil {
		return fmt.Errorf("ошибка подготовки запроса: %w", err)
	}
	defer stmt.Close()

	for ownerID, rec := range records {
		if err := validateOwner(ownerID); err != nil {
			return fmt.Errorf("batch: %w", err)
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("ошибка сериализации записи владельца %d: %w", ownerID, err)
		}
		if _, err := stmt.ExecContext(ctx, ownerID, data); err != nil {
			return fmt.Errorf("ошибка сохранения записи владельца %d в batch: %w", ownerID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// Close закрывает соединение с базой данных
func (r *MariaStateRepo) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
