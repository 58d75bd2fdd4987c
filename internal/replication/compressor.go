package replication

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Имена кодеков, пишутся в Metadata["codec"] конверта
const (
	CodecPassthrough = "passthrough"
	CodecZstd        = "zstd"
)

// DeltaCompressor кодирует/декодирует пачку изменений.
type DeltaCompressor interface {
	Name() string
	Compress(changes []Change) ([]byte, error)
	Decompress(payload []byte) ([]Change, error)
}

// NewCompressor возвращает кодек по имени; неизвестное имя даёт passthrough
func NewCompressor(name string) (DeltaCompressor, error) {
	switch name {
	case CodecZstd:
		return NewZstdCompressor()
	default:
		return NewPassthroughCompressor(), nil
	}
}

type passthroughCompressor struct{}

// NewPassthroughCompressor формат без сжатия: [len uint32 BE][json] ...
func NewPassthroughCompressor() DeltaCompressor { return &passthroughCompressor{} }

func (p *passthroughCompressor) Name() string { return CodecPassthrough }

func (p *passthroughCompressor) Compress(changes []Change) ([]byte, error) {
	buf := make([]byte, 0, 128*len(changes))
	for i := range changes {
		data, err := json.Marshal(&changes[i])
		if err != nil {
			return nil, fmt.Errorf("ошибка сериализации изменения %d: %w", changes[i].EntityID, err)
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(data)))
		buf = append(buf, data...)
	}
	return buf, nil
}

func (p *passthroughCompressor) Decompress(payload []byte) ([]Change, error) {
	var res []Change
	i := 0
	for i < len(payload) {
		if i+4 > len(payload) {
			return res, fmt.Errorf("обрезанный заголовок на смещении %d", i)
		}
		n := int(binary.BigEndian.Uint32(payload[i:]))
		i += 4
		if i+n > len(payload) {
			return res, fmt.Errorf("обрезанное изменение на смещении %d", i)
		}
		var ch Change
		if err := json.Unmarshal(payload[i:i+n], &ch); err != nil {
			return res, fmt.Errorf("ошибка десериализации изменения: %w", err)
		}
		res = append(res, ch)
		i += n
	}
	return res, nil
}

// zstdCompressor применяет zstd поверх passthrough-формата.
// Encoder и Decoder переиспользуются: EncodeAll/DecodeAll безопасны для конкурентного вызова.
type zstdCompressor struct {
	raw     passthroughCompressor
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstdCompressor создаёт zstd-кодек
func NewZstdCompressor() (DeltaCompressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &zstdCompressor{encoder: enc, decoder: dec}, nil
}

func (z *zstdCompressor) Name() string { return CodecZstd }

func (z *zstdCompressor) Compress(changes []Change) ([]byte, error) {
	raw, err := z.raw.Compress(changes)
	if err != nil {
		return nil, err
	}
	return z.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

func (z *zstdCompressor) Decompress(payload []byte) ([]Change, error) {
	raw, err := z.decoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return z.raw.Decompress(raw)
}

// Close освобождает ресурсы кодека; после Close кодек не используется
func (z *zstdCompressor) Close() {
	z.encoder.Close()
	z.decoder.Close()
}
