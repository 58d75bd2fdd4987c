package replication

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/annel0/mistborn/internal/eventbus"
	"github.com/annel0/mistborn/internal/logging"
)

// batchPriority приоритет конверта пачки в шине
const batchPriority = 5

// BatchManager накапливает изменения и отправляет их пакетами через EventBus.
// Изменения одной сущности схлопываются: в пачку попадает последнее.
// Каждый региональный узел имеет собственный экземпляр.
type BatchManager struct {
	mu       sync.Mutex
	buf      []Change
	index    map[uint64]int // entityID -> позиция в buf
	capacity int

	flushEvery time.Duration
	bus        eventbus.EventBus
	source     string // имя текущего узла/region-id
	compressor DeltaCompressor
	logger     *logging.Logger

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewBatchManager создаёт менеджер с указанным лимитом буфера и интервалом отправки.
// При flushEvery <= 0 фоновая отправка не запускается, пачки уходят через Flush.
func NewBatchManager(bus eventbus.EventBus, source string, capacity int, flushEvery time.Duration, compressor DeltaCompressor, logger *logging.Logger) *BatchManager {
	if compressor == nil {
		compressor = NewPassthroughCompressor()
	}
	if capacity <= 0 {
		capacity = 256
	}
	if logger == nil {
		logger = logging.GetSyncLogger()
	}
	bm := &BatchManager{
		index:      make(map[uint64]int),
		capacity:   capacity,
		flushEvery: flushEvery,
		bus:        bus,
		source:     source,
		compressor: compressor,
		logger:     logger,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	if flushEvery > 0 {
		go bm.loop()
	} else {
		close(bm.done)
	}
	return bm
}

// AddChange добавляет изменение в буфер; при переполнении низкоприоритетные изменения отбрасываются.
// Возвращает false, если изменение отброшено.
func (bm *BatchManager) AddChange(ch Change) bool {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	if i, ok := bm.index[ch.EntityID]; ok {
		bm.buf[i] = ch
		return true
	}

	if len(bm.buf) < bm.capacity {
		bm.index[ch.EntityID] = len(bm.buf)
		bm.buf = append(bm.buf, ch)
		return true
	}

	// ищем самое низкое Priority и заменяем, если новый выше
	lowIdx := -1
	lowPri := ch.Priority
	for i, c := range bm.buf {
		if c.Priority < lowPri {
			lowPri = c.Priority
			lowIdx = i
		}
	}
	if lowIdx < 0 {
		// все изменения >= нового, дропаем новый
		return false
	}
	delete(bm.index, bm.buf[lowIdx].EntityID)
	bm.buf[lowIdx] = ch
	bm.index[ch.EntityID] = lowIdx
	return true
}

// Pending количество изменений в буфере
func (bm *BatchManager) Pending() int {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return len(bm.buf)
}

func (bm *BatchManager) loop() {
	defer close(bm.done)
	ticker := time.NewTicker(bm.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			bm.Flush(context.Background())
		case <-bm.quit:
			return
		}
	}
}

// Flush отсылает накопленные изменения единым сообщением.
// Возвращает число отправленных изменений.
func (bm *BatchManager) Flush(ctx context.Context) int {
	bm.mu.Lock()
	if len(bm.buf) == 0 {
		bm.mu.Unlock()
		return 0
	}
	changes := make([]Change, len(bm.buf))
	copy(changes, bm.buf)
	bm.buf = bm.buf[:0]
	bm.index = make(map[uint64]int, len(changes))
	bm.mu.Unlock()

	payload, err := bm.compressor.Compress(changes)
	if err != nil {
		bm.logger.Warn("BatchManager: ошибка сжатия: %v", err)
		return 0
	}

	env := eventbus.NewEnvelope(bm.source, eventbus.EventAllomancyStateBatch, batchPriority, payload)
	env.Metadata["codec"] = bm.compressor.Name()
	env.Metadata["count"] = strconv.Itoa(len(changes))

	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := bm.bus.Publish(pctx, env); err != nil {
		bm.logger.Warn("BatchManager: ошибка публикации: %v", err)
		return 0
	}
	bm.logger.Trace("BatchManager: отправлено %d изменений (%d байт, %s)", len(changes), len(payload), bm.compressor.Name())
	return len(changes)
}

// Stop завершает работу менеджера и отправляет оставшиеся изменения.
func (bm *BatchManager) Stop() {
	bm.stopOnce.Do(func() {
		close(bm.quit)
		<-bm.done
		bm.Flush(context.Background())
	})
}
