package replication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/mistborn/internal/logging"
)

// RedisConfig содержит настройки подключения к Redis
type RedisConfig struct {
	Addr         string        // Адрес Redis сервера
	Password     string        // Пароль (пустой если не требуется)
	DB           int           // Номер базы данных
	KeyPrefix    string        // Префикс для ключей
	TTL          time.Duration // Время жизни записей
	BatchSize    int           // Размер батча для записи
	BatchFlushMs int           // Интервал сброса батча в миллисекундах
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		KeyPrefix:    "mistborn:allomancy:",
		TTL:          5 * time.Minute,
		BatchSize:    100,
		BatchFlushMs: 100,
	}
}

// RedisViewCache хранит представления в Redis (JSON по ключу <prefix><entityID>).
// Запись буферизуется и сбрасывается пайплайном по таймеру или заполнению буфера.
type RedisViewCache struct {
	client      *redis.Client
	keyPrefix   string
	ttl         time.Duration
	batchSize   int
	batchMu     sync.Mutex
	batchBuffer map[uint64]View
	batchTicker *time.Ticker
	shutdown    chan struct{}
	wg          sync.WaitGroup
	logger      *logging.Logger
	closeOnce   sync.Once
}

// NewRedisViewCache подключается к Redis и запускает фоновый сброс батчей
func NewRedisViewCache(config *RedisConfig) (*RedisViewCache, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisViewCache(client, config), nil
}

func newRedisViewCache(client *redis.Client, config *RedisConfig) *RedisViewCache {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.BatchFlushMs <= 0 {
		config.BatchFlushMs = 100
	}

	c := &RedisViewCache{
		client:      client,
		keyPrefix:   config.KeyPrefix,
		ttl:         config.TTL,
		batchSize:   config.BatchSize,
		batchBuffer: make(map[uint64]View),
		batchTicker: time.NewTicker(time.Duration(config.BatchFlushMs) * time.Millisecond),
		shutdown:    make(chan struct{}),
		logger:      logging.GetSyncLogger(),
	}

	c.wg.Add(1)
	go c.batchFlusher()

	c.logger.Info("🔴 Redis view cache: %s (prefix=%s, ttl=%v)", config.Addr, config.KeyPrefix, config.TTL)
	return c
}

func (c *RedisViewCache) key(entityID uint64) string {
	return c.keyPrefix + strconv.FormatUint(entityID, 10)
}

// Put кладёт представления в батч-буфер; при заполнении сбрасывает немедленно
func (c *RedisViewCache) Put(ctx context.Context, views []View) error {
	c.batchMu.Lock()
	for _, v := range views {
		c.batchBuffer[v.EntityID] = v
	}
	if len(c.batchBuffer) < c.batchSize {
		c.batchMu.Unlock()
		return nil
	}
	batch := c.batchBuffer
	c.batchBuffer = make(map[uint64]View)
	c.batchMu.Unlock()

	return c.flushBatch(ctx, batch)
}

// Get читает представление: сначала непросброшенный буфер, затем Redis
func (c *RedisViewCache) Get(ctx context.Context, entityID uint64) (View, bool, error) {
	c.batchMu.Lock()
	if v, ok := c.batchBuffer[entityID]; ok {
		c.batchMu.Unlock()
		return v, true, nil
	}
	c.batchMu.Unlock()

	data, err := c.client.Get(ctx, c.key(entityID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return View{}, false, nil
	}
	if err != nil {
		return View{}, false, fmt.Errorf("failed to get view: %w", err)
	}

	var v View
	if err := json.Unmarshal(data, &v); err != nil {
		return View{}, false, fmt.Errorf("failed to unmarshal view: %w", err)
	}
	return v, true, nil
}

// Delete удаляет представление из буфера и из Redis
func (c *RedisViewCache) Delete(ctx context.Context, entityID uint64) error {
	c.batchMu.Lock()
	delete(c.batchBuffer, entityID)
	c.batchMu.Unlock()

	if err := c.client.Del(ctx, c.key(entityID)).Err(); err != nil {
		return fmt.Errorf("failed to delete view: %w", err)
	}
	return nil
}

// batchFlusher периодически сбрасывает буфер
func (c *RedisViewCache) batchFlusher() {
	defer c.wg.Done()

	for {
		select {
		case <-c.batchTicker.C:
			c.batchMu.Lock()
			if len(c.batchBuffer) == 0 {
				c.batchMu.Unlock()
				continue
			}
			batch := c.batchBuffer
			c.batchBuffer = make(map[uint64]View)
			c.batchMu.Unlock()

			if err := c.flushBatch(context.Background(), batch); err != nil {
				c.logger.Warn("⚠️ Redis view cache: ошибка сброса батча: %v", err)
			}

		case <-c.shutdown:
			return
		}
	}
}

// flushBatch записывает батч одним пайплайном
func (c *RedisViewCache) flushBatch(ctx context.Context, batch map[uint64]View) error {
	if len(batch) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for id, v := range batch {
		data, err := json.Marshal(v)
		if err != nil {
			c.logger.Warn("⚠️ Redis view cache: ошибка сериализации %d: %v", id, err)
			continue
		}
		pipe.Set(ctx, c.key(id), data, c.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute pipeline: %w", err)
	}
	return nil
}

// Close сбрасывает оставшийся буфер и закрывает соединение
func (c *RedisViewCache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.shutdown)
		c.batchTicker.Stop()
		c.wg.Wait()

		c.batchMu.Lock()
		batch := c.batchBuffer
		c.batchBuffer = make(map[uint64]View)
		c.batchMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if ferr := c.flushBatch(ctx, batch); ferr != nil {
			c.logger.Warn("⚠️ Redis view cache: ошибка финального сброса: %v", ferr)
		}
		err = c.client.Close()
	})
	return err
}
