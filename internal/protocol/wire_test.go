package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/annel0/mistborn/internal/vec"
)

func TestQueryIndexSurvivesWire(t *testing.T) {
	msg, err := Decode(Encode(&RequestSelectedMetal{Index: QuerySelected}))
	require.NoError(t, err)

	req, ok := msg.(*RequestSelectedMetal)
	require.True(t, ok, "Ожидался RequestSelectedMetal, получен %T", msg)
	assert.Equal(t, int32(-1), req.Index)
}

func TestBurnChangeOverFrames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, &RequestBurnChange{MetalIndex: 13, Action: ActionFlare}))
	require.NoError(t, WriteMessage(&buf, &NotifyRespawn{}))
	require.NoError(t, WriteMessage(&buf, &PositionSync{
		Position: vec.Vec3{X: 1, Y: 64, Z: -3},
		Motion:   vec.Vec3{X: 0.5},
	}))

	first, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, &RequestBurnChange{MetalIndex: 13, Action: ActionFlare}, first)

	second, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgNotifyRespawn, second.Type())

	third, err := ReadMessage(&buf)
	require.NoError(t, err)
	sync := third.(*PositionSync)
	assert.Equal(t, 64.0, sync.Position.Y)
	assert.Equal(t, 0.5, sync.Motion.X)

	_, err = ReadMessage(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte{0xff, 0xff, 0xff})
	assert.Error(t, err)

	// конверт с неизвестным типом
	b := protowire.AppendTag(nil, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, 99)
	_, err = Decode(b)
	assert.True(t, errors.Is(err, ErrUnknownType))

	// тип с неверным wire-типом
	b = protowire.AppendTag(nil, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("x"))
	_, err = Decode(b)
	assert.Error(t, err)

	// индекс, не влезающий в int32, не должен усекаться до стали (13)
	payload := protowire.AppendTag(nil, 1, protowire.VarintType)
	payload = protowire.AppendVarint(payload, 1<<32+13)
	payload = protowire.AppendTag(payload, 2, protowire.VarintType)
	payload = protowire.AppendVarint(payload, uint64(ActionFlare))
	b = protowire.AppendTag(nil, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(MsgRequestBurnChange))
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	_, err = Decode(b)
	assert.ErrorIs(t, err, ErrInt32Range)

	// -1 кодируется знаковым расширением и остаётся допустимым
	msg, err := Decode(Encode(&RequestSelectedMetal{Index: QuerySelected}))
	require.NoError(t, err)
	assert.Equal(t, int32(-1), msg.(*RequestSelectedMetal).Index)
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	payload := protowire.AppendTag(nil, 1, protowire.VarintType)
	payload = protowire.AppendVarint(payload, 4)
	payload = protowire.AppendTag(payload, 9, protowire.BytesType)
	payload = protowire.AppendBytes(payload, []byte("future"))

	b := protowire.AppendTag(nil, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(MsgReplySelectedMetal))
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)

	msg, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, int32(4), msg.(*ReplySelectedMetal).Index)
}

func TestFrameSizeLimit(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, make([]byte, MaxFrameSize+1))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Zero(t, buf.Len())

	header := []byte{0xff, 0xff, 0xff, 0x7f}
	_, err = ReadFrame(bytes.NewReader(header))
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	// обрезанный кадр
	_, err = ReadFrame(bytes.NewReader([]byte{10, 0, 0, 0, 1, 2}))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestBurnActionValid(t *testing.T) {
	for _, a := range []BurnAction{ActionFlare, ActionDecrease, ActionIncrease, ActionToggle} {
		assert.True(t, a.Valid(), a.String())
	}
	assert.False(t, BurnAction(0).Valid())
	assert.False(t, BurnAction(5).Valid())
}
