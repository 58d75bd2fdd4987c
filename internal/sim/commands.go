package sim

import (
	"math"

	"github.com/annel0/mistborn/internal/allomancy"
)

// CommandKind тип серверной команды
type CommandKind uint8

const (
	CmdFlare CommandKind = iota + 1
	CmdIncreaseIntensity
	CmdDecreaseIntensity
	CmdToggleBurn
	CmdSetSelected
	CmdQuerySelected
	CmdGrantPower
	CmdRevokePower
	CmdGrantAllPowers
	CmdFeedReserve
)

var commandNames = map[CommandKind]string{
	CmdFlare:             "flare",
	CmdIncreaseIntensity: "increase",
	CmdDecreaseIntensity: "decrease",
	CmdToggleBurn:        "toggle",
	CmdSetSelected:       "set_selected",
	CmdQuerySelected:     "query_selected",
	CmdGrantPower:        "grant_power",
	CmdRevokePower:       "revoke_power",
	CmdGrantAllPowers:    "grant_all_powers",
	CmdFeedReserve:       "feed_reserve",
}

// String возвращает имя команды (метка метрик)
func (k CommandKind) String() string {
	if name, ok := commandNames[k]; ok {
		return name
	}
	return "unknown"
}

// Command команда, применяемая между тиками.
// Metal = NoMetal допустим только для SetSelected (снять выбор), QuerySelected
// и GrantAllPowers.
type Command struct {
	Kind     CommandKind
	EntityID uint64
	Metal    allomancy.Metal
	Amount   float64 // только FeedReserve
}

// Valid проверяет команду до постановки в очередь
func (c Command) Valid() bool {
	switch c.Kind {
	case CmdFlare, CmdIncreaseIntensity, CmdDecreaseIntensity, CmdToggleBurn,
		CmdGrantPower, CmdRevokePower:
		return c.Metal.Valid()
	case CmdSetSelected:
		return c.Metal == allomancy.NoMetal || c.Metal.Valid()
	case CmdQuerySelected, CmdGrantAllPowers:
		return true
	case CmdFeedReserve:
		return c.Metal.Valid() && c.Amount > 0 && !math.IsInf(c.Amount, 0) && !math.IsNaN(c.Amount)
	default:
		return false
	}
}

// Flare вспышка металла
func Flare(entityID uint64, m allomancy.Metal) Command {
	return Command{Kind: CmdFlare, EntityID: entityID, Metal: m}
}

// IncreaseIntensity +1 к интенсивности
func IncreaseIntensity(entityID uint64, m allomancy.Metal) Command {
	return Command{Kind: CmdIncreaseIntensity, EntityID: entityID, Metal: m}
}

// DecreaseIntensity -1 к интенсивности
func DecreaseIntensity(entityID uint64, m allomancy.Metal) Command {
	return Command{Kind: CmdDecreaseIntensity, EntityID: entityID, Metal: m}
}

// ToggleBurn переключение горения
func ToggleBurn(entityID uint64, m allomancy.Metal) Command {
	return Command{Kind: CmdToggleBurn, EntityID: entityID, Metal: m}
}

// SetSelected выбор металла; NoMetal снимает выбор
func SetSelected(entityID uint64, m allomancy.Metal) Command {
	return Command{Kind: CmdSetSelected, EntityID: entityID, Metal: m}
}

// QuerySelected запрос текущего выбора, ответ уходит через Outbox
func QuerySelected(entityID uint64) Command {
	return Command{Kind: CmdQuerySelected, EntityID: entityID, Metal: allomancy.NoMetal}
}

// GrantPower выдать силу
func GrantPower(entityID uint64, m allomancy.Metal) Command {
	return Command{Kind: CmdGrantPower, EntityID: entityID, Metal: m}
}

// RevokePower отозвать силу
func RevokePower(entityID uint64, m allomancy.Metal) Command {
	return Command{Kind: CmdRevokePower, EntityID: entityID, Metal: m}
}

// GrantAllPowers выдать все силы (лерасиум)
func GrantAllPowers(entityID uint64) Command {
	return Command{Kind: CmdGrantAllPowers, EntityID: entityID, Metal: allomancy.NoMetal}
}

// FeedReserve пополнить запас металла (флакон)
func FeedReserve(entityID uint64, m allomancy.Metal, amount float64) Command {
	return Command{Kind: CmdFeedReserve, EntityID: entityID, Metal: m, Amount: amount}
}
