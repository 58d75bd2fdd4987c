package replication

import (
	"context"
	"time"

	"github.com/annel0/mistborn/internal/eventbus"
	"github.com/annel0/mistborn/internal/logging"
)

// Replicator координирует ViewCache, BatchManager и Consumer.
// Симуляция вызывает Replicate после каждого тика с грязными записями.
type Replicator struct {
	region   string
	cache    ViewCache
	bm       *BatchManager
	consumer *Consumer
	logger   *logging.Logger
}

// Config параметры репликации
type Config struct {
	RegionID   string
	Bus        eventbus.EventBus // nil: только локальный кеш
	Cache      ViewCache         // nil: MemoryViewCache
	BatchSize  int
	FlushEvery time.Duration
	Codec      string // passthrough | zstd
	Logger     *logging.Logger
}

// NewReplicator собирает компоненты репликации
func NewReplicator(ctx context.Context, cfg Config) (*Replicator, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetSyncLogger()
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NewMemoryViewCache()
	}

	r := &Replicator{region: cfg.RegionID, cache: cache, logger: logger}
	if cfg.Bus == nil {
		logger.Info("🔄 Replicator: шина не задана, только локальный кеш")
		return r, nil
	}

	compressor, err := NewCompressor(cfg.Codec)
	if err != nil {
		return nil, err
	}
	r.bm = NewBatchManager(cfg.Bus, cfg.RegionID, cfg.BatchSize, cfg.FlushEvery, compressor, logger)

	consumer, err := NewConsumer(ctx, cfg.Bus, cfg.RegionID, cache, logger, compressor)
	if err != nil {
		r.bm.Stop()
		return nil, err
	}
	r.consumer = consumer

	logger.Info("✅ Replicator инициализирован: region=%s, batch=%d, flush=%v, codec=%s",
		cfg.RegionID, cfg.BatchSize, cfg.FlushEvery, compressor.Name())
	return r, nil
}

// Replicate публикует изменения тика: в кеш сразу, в шину пачкой
func (r *Replicator) Replicate(ctx context.Context, changes []Change) error {
	if len(changes) == 0 {
		return nil
	}
	views := make([]View, len(changes))
	for i := range changes {
		if changes[i].SourceRegion == "" {
			changes[i].SourceRegion = r.region
		}
		views[i] = ViewOf(changes[i])
		if r.bm != nil && !r.bm.AddChange(changes[i]) {
			r.logger.Debug("Replicator: изменение %d отброшено переполненным буфером", changes[i].EntityID)
		}
	}
	return r.cache.Put(ctx, views)
}

// View возвращает последнее представление сущности
func (r *Replicator) View(ctx context.Context, entityID uint64) (View, bool, error) {
	return r.cache.Get(ctx, entityID)
}

// Forget удаляет представление покинувшей мир сущности
func (r *Replicator) Forget(ctx context.Context, entityID uint64) error {
	return r.cache.Delete(ctx, entityID)
}

// Flush немедленно отправляет накопленную пачку
func (r *Replicator) Flush(ctx context.Context) int {
	if r.bm == nil {
		return 0
	}
	return r.bm.Flush(ctx)
}

// Region имя региона-источника
func (r *Replicator) Region() string { return r.region }

// Stop останавливает репликацию и закрывает кеш
func (r *Replicator) Stop() error {
	if r.consumer != nil {
		r.consumer.Stop()
	}
	if r.bm != nil {
		r.bm.Stop()
	}
	err := r.cache.Close()
	r.logger.Info("🔄 Replicator остановлен")
	return err
}
