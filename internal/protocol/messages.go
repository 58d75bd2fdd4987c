// Package protocol описывает сообщения синхронизации алломантии между клиентом
// и сервером. Полезная нагрузка кодируется в wire-формате Protocol Buffers.
package protocol

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/annel0/mistborn/internal/vec"
)

// MsgType определяет тип сообщения
type MsgType int32

const (
	MsgUnknown              MsgType = 0
	MsgRequestJoin          MsgType = 1 // клиент → сервер
	MsgRequestSelectedMetal MsgType = 2 // клиент → сервер
	MsgReplySelectedMetal   MsgType = 3 // сервер → клиент
	MsgRequestBurnChange    MsgType = 4 // клиент → сервер
	MsgNotifyRespawn        MsgType = 5 // сервер → клиент
	MsgPositionSync         MsgType = 6 // сервер → клиент
)

// String возвращает имя типа сообщения
func (t MsgType) String() string {
	switch t {
	case MsgRequestJoin:
		return "RequestJoin"
	case MsgRequestSelectedMetal:
		return "RequestSelectedMetal"
	case MsgReplySelectedMetal:
		return "ReplySelectedMetal"
	case MsgRequestBurnChange:
		return "RequestBurnChange"
	case MsgNotifyRespawn:
		return "NotifyRespawn"
	case MsgPositionSync:
		return "PositionSync"
	default:
		return "Unknown"
	}
}

// BurnAction действие над горением металла
type BurnAction int32

const (
	ActionFlare    BurnAction = 1
	ActionDecrease BurnAction = 2
	ActionIncrease BurnAction = 3
	ActionToggle   BurnAction = 4
)

// Valid проверяет, что действие известно
func (a BurnAction) Valid() bool {
	return a >= ActionFlare && a <= ActionToggle
}

// String возвращает имя действия
func (a BurnAction) String() string {
	switch a {
	case ActionFlare:
		return "flare"
	case ActionDecrease:
		return "decrease"
	case ActionIncrease:
		return "increase"
	case ActionToggle:
		return "toggle"
	default:
		return fmt.Sprintf("action(%d)", int32(a))
	}
}

// QuerySelected индекс «сообщи текущий выбор» / «ничего не выбрано»
const QuerySelected int32 = -1

// Message общее поведение сообщений протокола
type Message interface {
	Type() MsgType
	AppendWire(b []byte) []byte
	UnmarshalWire(b []byte) error
}

// RequestJoin привязывает соединение к игроку
type RequestJoin struct {
	PlayerID uint64
}

// RequestSelectedMetal запрос смены выбора; -1: запрос текущего выбора
type RequestSelectedMetal struct {
	Index int32
}

// ReplySelectedMetal ответ сервера; -1: ничего не выбрано
type ReplySelectedMetal struct {
	Index int32
}

// RequestBurnChange запрос изменения горения металла
type RequestBurnChange struct {
	MetalIndex int32
	Action     BurnAction
}

// NotifyRespawn авторитетное состояние клиента было сброшено
type NotifyRespawn struct{}

// PositionSync принудительная синхронизация позиции после толчка
type PositionSync struct {
	Position vec.Vec3
	Motion   vec.Vec3
}

func (*RequestJoin) Type() MsgType          { return MsgRequestJoin }
func (*RequestSelectedMetal) Type() MsgType { return MsgRequestSelectedMetal }
func (*ReplySelectedMetal) Type() MsgType   { return MsgReplySelectedMetal }
func (*RequestBurnChange) Type() MsgType    { return MsgRequestBurnChange }
func (*NotifyRespawn) Type() MsgType        { return MsgNotifyRespawn }
func (*PositionSync) Type() MsgType         { return MsgPositionSync }

// ===== Кодирование =====

func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func (m *RequestJoin) AppendWire(b []byte) []byte {
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	return protowire.AppendVarint(b, m.PlayerID)
}

func (m *RequestSelectedMetal) AppendWire(b []byte) []byte {
	return appendInt32(b, 1, m.Index)
}

func (m *ReplySelectedMetal) AppendWire(b []byte) []byte {
	return appendInt32(b, 1, m.Index)
}

func (m *RequestBurnChange) AppendWire(b []byte) []byte {
	b = appendInt32(b, 1, m.MetalIndex)
	return appendInt32(b, 2, int32(m.Action))
}

func (m *NotifyRespawn) AppendWire(b []byte) []byte { return b }

func (m *PositionSync) AppendWire(b []byte) []byte {
	b = appendDouble(b, 1, m.Position.X)
	b = appendDouble(b, 2, m.Position.Y)
	b = appendDouble(b, 3, m.Position.Z)
	b = appendDouble(b, 4, m.Motion.X)
	b = appendDouble(b, 5, m.Motion.Y)
	return appendDouble(b, 6, m.Motion.Z)
}

// ===== Декодирование =====

func (m *RequestJoin) UnmarshalWire(b []byte) error {
	*m = RequestJoin{}
	return walkFields(b, func(num protowire.Number, f field) error {
		if num == 1 {
			v, err := f.varint()
			m.PlayerID = v
			return err
		}
		return nil
	})
}

func (m *RequestSelectedMetal) UnmarshalWire(b []byte) error {
	*m = RequestSelectedMetal{}
	return walkFields(b, func(num protowire.Number, f field) error {
		if num == 1 {
			v, err := f.varint32()
			m.Index = v
			return err
		}
		return nil
	})
}

func (m *ReplySelectedMetal) UnmarshalWire(b []byte) error {
	*m = ReplySelectedMetal{}
	return walkFields(b, func(num protowire.Number, f field) error {
		if num == 1 {
			v, err := f.varint32()
			m.Index = v
			return err
		}
		return nil
	})
}

func (m *RequestBurnChange) UnmarshalWire(b []byte) error {
	*m = RequestBurnChange{}
	return walkFields(b, func(num protowire.Number, f field) error {
		switch num {
		case 1:
			v, err := f.varint32()
			m.MetalIndex = v
			return err
		case 2:
			v, err := f.varint32()
			m.Action = BurnAction(v)
			return err
		}
		return nil
	})
}

func (m *NotifyRespawn) UnmarshalWire(b []byte) error {
	return walkFields(b, func(protowire.Number, field) error { return nil })
}

func (m *PositionSync) UnmarshalWire(b []byte) error {
	*m = PositionSync{}
	targets := map[protowire.Number]*float64{
		1: &m.Position.X, 2: &m.Position.Y, 3: &m.Position.Z,
		4: &m.Motion.X, 5: &m.Motion.Y, 6: &m.Motion.Z,
	}
	return walkFields(b, func(num protowire.Number, f field) error {
		dst, ok := targets[num]
		if !ok {
			return nil
		}
		v, err := f.double()
		*dst = v
		return err
	})
}
