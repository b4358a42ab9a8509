package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/annel0/chunk-streamer/internal/world"
	"github.com/annel0/chunk-streamer/internal/world/block"
)

const codecVersion byte = 1

// ErrCorruptChunk данные чанка не удалось разобрать
var ErrCorruptChunk = errors.New("corrupt chunk data")

// Codec сжимает массив блоков чанка в zstd.
// Формат: байт версии, затем сжатые ChunkVolume значений uint16 (little endian).
// Encoder и Decoder используются через EncodeAll/DecodeAll и безопасны
// для одновременного вызова из нескольких горутин.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCodec создаёт кодек
func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("ошибка создания zstd decoder: %w", err)
	}
	return &Codec{encoder: enc, decoder: dec}, nil
}

// Encode сериализует и сжимает блоки
func (c *Codec) Encode(blocks *world.BlockArray) []byte {
	raw := make([]byte, world.ChunkVolume*2)
	for i, id := range blocks {
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(id))
	}
	out := make([]byte, 1, 1+len(raw)/8)
	out[0] = codecVersion
	return c.encoder.EncodeAll(raw, out)
}

// Decode распаковывает данные в dst
func (c *Codec) Decode(data []byte, dst *world.BlockArray) error {
	if len(data) < 1 {
		return ErrCorruptChunk
	}
	if data[0] != codecVersion {
		return fmt.Errorf("%w: неизвестная версия %d", ErrCorruptChunk, data[0])
	}
	raw, err := c.decoder.DecodeAll(data[1:], make([]byte, 0, world.ChunkVolume*2))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptChunk, err)
	}
	if len(raw) != world.ChunkVolume*2 {
		return fmt.Errorf("%w: размер %d", ErrCorruptChunk, len(raw))
	}
	for i := range dst {
		dst[i] = block.BlockID(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return nil
}

// Close освобождает ресурсы кодека
func (c *Codec) Close() {
	c.encoder.Close()
	c.decoder.Close()
}
