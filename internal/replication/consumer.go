package replication

import (
	"context"
	"fmt"

	"github.com/annel0/mistborn/internal/eventbus"
	"github.com/annel0/mistborn/internal/logging"
)

// Consumer слушает пачки других регионов и складывает их представления в ViewCache.
// Собственные пачки (Source == region) пропускаются.
type Consumer struct {
	region      string
	cache       ViewCache
	compressors map[string]DeltaCompressor
	sub         eventbus.Subscription
	logger      *logging.Logger
}

// NewConsumer подписывается на AllomancyStateBatch
func NewConsumer(ctx context.Context, bus eventbus.EventBus, region string, cache ViewCache, logger *logging.Logger, compressors ...DeltaCompressor) (*Consumer, error) {
	if logger == nil {
		logger = logging.GetSyncLogger()
	}
	c := &Consumer{
		region:      region,
		cache:       cache,
		compressors: map[string]DeltaCompressor{CodecPassthrough: NewPassthroughCompressor()},
		logger:      logger,
	}
	for _, comp := range compressors {
		c.compressors[comp.Name()] = comp
	}

	sub, err := bus.Subscribe(ctx, eventbus.Filter{Types: []string{eventbus.EventAllomancyStateBatch}}, c.handle)
	if err != nil {
		return nil, fmt.Errorf("подписка на %s: %w", eventbus.EventAllomancyStateBatch, err)
	}
	c.sub = sub
	return c, nil
}

func (c *Consumer) handle(ctx context.Context, ev *eventbus.Envelope) {
	if ev.Source == c.region {
		return
	}

	codec := ev.Metadata["codec"]
	if codec == "" {
		codec = CodecPassthrough
	}
	comp, ok := c.compressors[codec]
	if !ok {
		c.logger.Warn("Consumer: неизвестный кодек %q от %s", codec, ev.Source)
		return
	}

	changes, err := comp.Decompress(ev.Payload)
	if err != nil {
		c.logger.Warn("Consumer: ошибка распаковки пачки %s: %v", ev.ID, err)
		return
	}

	views := make([]View, 0, len(changes))
	for _, ch := range changes {
		if ch.SourceRegion == "" {
			ch.SourceRegion = ev.Source
		}
		views = append(views, ViewOf(ch))
	}
	if err := c.cache.Put(ctx, views); err != nil {
		c.logger.Warn("Consumer: ошибка записи %d представлений: %v", len(views), err)
		return
	}
	c.logger.Debug("Consumer: применено %d представлений от %s", len(views), ev.Source)
}

// Stop отписывается от шины
func (c *Consumer) Stop() { c.sub.Unsubscribe() }
