package manifest

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/hupe1980/segmut/internal/conv"
	"github.com/hupe1980/segmut/internal/hash"
)

const (
	binaryMagic   = 0x544D4753 // "SGMT"
	binaryVersion = 1
	headerSize    = 16
)

// Marshal encodes m as a segments file.
func Marshal(m *Manifest) ([]byte, error) {
	payload, err := msgpack.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "manifest: encode")
	}

	length, err := conv.IntToUint32(len(payload))
	if err != nil {
		return nil, errors.Wrap(err, "manifest: encode")
	}

	buf := make([]byte, headerSize, headerSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], binaryMagic)
	binary.LittleEndian.PutUint32(buf[4:8], binaryVersion)
	binary.LittleEndian.PutUint32(buf[8:12], hash.CRC32C(payload))
	binary.LittleEndian.PutUint32(buf[12:16], length)
	return append(buf, payload...), nil
}

// Unmarshal decodes a segments file.
func Unmarshal(data []byte) (*Manifest, error) {
	if len(data) < headerSize {
		return nil, errors.Wrapf(ErrCorrupt, "%d bytes, header needs %d", len(data), headerSize)
	}
	if magic := binary.LittleEndian.Uint32(data[0:4]); magic != binaryMagic {
		return nil, errors.Wrapf(ErrCorrupt, "invalid magic %#x", magic)
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != binaryVersion {
		return nil, errors.Wrapf(ErrIncompatibleVersion, "version %d", v)
	}
	checksum := binary.LittleEndian.Uint32(data[8:12])
	length := binary.LittleEndian.Uint32(data[12:16])

	payload := data[headerSize:]
	if uint32(len(payload)) != length {
		return nil, errors.Wrapf(ErrCorrupt, "payload is %d bytes, header says %d", len(payload), length)
	}
	if !hash.VerifyCRC32C(payload, checksum) {
		return nil, errors.Wrap(ErrCorrupt, "checksum mismatch")
	}

	m := &Manifest{}
	if err := msgpack.Unmarshal(payload, m); err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "decode: %v", err)
	}
	return m, nil
}
