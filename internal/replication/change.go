// Package replication рассылает изменённые алломантические состояния:
// после каждого тика грязные записи попадают в кеш представлений
// и пачками уходят в шину событий для других регионов.
package replication

import (
	"time"

	"github.com/annel0/mistborn/internal/allomancy"
)

// Change снимок записи одной сущности на конкретном тике
type Change struct {
	EntityID     uint64           `json:"entity_id"`
	OwnerID      uint64           `json:"owner_id"` // постоянный id игрока, 0 для NPC
	Tick         uint64           `json:"tick"`
	Record       allomancy.Record `json:"record"`
	Priority     int              `json:"priority"` // приоритизация для сброса при перегрузке
	Timestamp    time.Time        `json:"timestamp"`
	SourceRegion string           `json:"source_region"`
}

// View последнее известное представление состояния сущности
type View struct {
	EntityID     uint64           `json:"entity_id"`
	OwnerID      uint64           `json:"owner_id"`
	Tick         uint64           `json:"tick"`
	Record       allomancy.Record `json:"record"`
	SourceRegion string           `json:"source_region"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// ViewOf строит представление из изменения
func ViewOf(ch Change) View {
	return View{
		EntityID:     ch.EntityID,
		OwnerID:      ch.OwnerID,
		Tick:         ch.Tick,
		Record:       ch.Record,
		SourceRegion: ch.SourceRegion,
		UpdatedAt:    ch.Timestamp,
	}
}
