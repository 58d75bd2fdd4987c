package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxFrameSize максимальный размер кадра
const MaxFrameSize = 64 * 1024

// ErrFrameTooLarge кадр больше MaxFrameSize
var ErrFrameTooLarge = errors.New("frame too large")

// ErrUnknownType неизвестный тип сообщения
var ErrUnknownType = errors.New("unknown message type")

// ErrInt32Range varint не помещается в int32
var ErrInt32Range = errors.New("varint out of int32 range")

// field значение текущего поля при разборе
type field struct {
	typ protowire.Type
	b   []byte
	n   int
}

func (f *field) varint() (uint64, error) {
	if f.typ != protowire.VarintType {
		return 0, fmt.Errorf("ожидался varint, получен тип %d", f.typ)
	}
	v, n := protowire.ConsumeVarint(f.b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return v, nil
}

// varint32 varint поля int32; значения вне диапазона не усекаются, а отвергаются
func (f *field) varint32() (int32, error) {
	v, err := f.varint()
	if err != nil {
		return 0, err
	}
	if iv := int64(v); iv < math.MinInt32 || iv > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %d", ErrInt32Range, iv)
	}
	return int32(v), nil
}

func (f *field) double() (float64, error) {
	if f.typ != protowire.Fixed64Type {
		return 0, fmt.Errorf("ожидался fixed64, получен тип %d", f.typ)
	}
	v, n := protowire.ConsumeFixed64(f.b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return math.Float64frombits(v), nil
}

func (f *field) bytes() ([]byte, error) {
	if f.typ != protowire.BytesType {
		return nil, fmt.Errorf("ожидались bytes, получен тип %d", f.typ)
	}
	v, n := protowire.ConsumeBytes(f.b)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	return v, nil
}

// walkFields обходит поля сообщения; неизвестные поля пропускаются
func walkFields(b []byte, fn func(num protowire.Number, f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		size := protowire.ConsumeFieldValue(num, typ, b)
		if size < 0 {
			return protowire.ParseError(size)
		}
		if err := fn(num, field{typ: typ, b: b[:size], n: size}); err != nil {
			return err
		}
		b = b[size:]
	}
	return nil
}

// Encode упаковывает сообщение в конверт {1: type, 2: payload}
func Encode(msg Message) []byte {
	payload := msg.AppendWire(nil)
	b := make([]byte, 0, len(payload)+8)
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.Type()))
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	return protowire.AppendBytes(b, payload)
}

// New создаёт пустое сообщение по типу
func New(t MsgType) (Message, error) {
	switch t {
	case MsgRequestJoin:
		return &RequestJoin{}, nil
	case MsgRequestSelectedMetal:
		return &RequestSelectedMetal{}, nil
	case MsgReplySelectedMetal:
		return &ReplySelectedMetal{}, nil
	case MsgRequestBurnChange:
		return &RequestBurnChange{}, nil
	case MsgNotifyRespawn:
		return &NotifyRespawn{}, nil
	case MsgPositionSync:
		return &PositionSync{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
}

// Decode распаковывает конверт и полезную нагрузку
func Decode(data []byte) (Message, error) {
	var (
		msgType MsgType
		payload []byte
	)
	err := walkFields(data, func(num protowire.Number, f field) error {
		switch num {
		case 1:
			v, err := f.varint()
			msgType = MsgType(int32(v))
			return err
		case 2:
			v, err := f.bytes()
			payload = v
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора конверта: %w", err)
	}

	msg, err := New(msgType)
	if err != nil {
		return nil, err
	}
	if err := msg.UnmarshalWire(payload); err != nil {
		return nil, fmt.Errorf("ошибка разбора %s: %w", msgType, err)
	}
	return msg, nil
}

// WriteFrame пишет кадр: 4 байта длины (little-endian) + данные
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// ReadFrame читает один кадр
func ReadFrame(r io.Reader) ([]byte, error) {
	sizeBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, sizeBuf); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(sizeBuf)
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// WriteMessage кодирует и пишет сообщение кадром
func WriteMessage(w io.Writer, msg Message) error {
	return WriteFrame(w, Encode(msg))
}

// ReadMessage читает кадр и декодирует сообщение
func ReadMessage(r io.Reader) (Message, error) {
	data, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}
