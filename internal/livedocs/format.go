package livedocs

import (
	"bytes"
	"context"
	"encoding/binary"
	"log/slog"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/cockroachdb/errors"

	"github.com/hupe1980/segmut/blobstore"
	"github.com/hupe1980/segmut/internal/bitmap"
	"github.com/hupe1980/segmut/internal/conv"
	"github.com/hupe1980/segmut/internal/hash"
	"github.com/hupe1980/segmut/internal/resource"
	"github.com/hupe1980/segmut/segment"
)

const (
	magic      = 0x4456494C // "LIVD"
	version    = 1
	headerSize = 28
	// Extension is the file suffix of live-docs files.
	Extension = ".liv"
)

var (
	// ErrCorrupt is returned when a live-docs file fails validation.
	ErrCorrupt = errors.New("livedocs: corrupt file")
	// ErrCountMismatch is returned when a bitmap's delete count disagrees
	// with the commit descriptor.
	ErrCountMismatch = errors.New("livedocs: delete count mismatch")
)

// FileName returns the live-docs file of segment at gen.
func FileName(segmentName string, gen int64) string {
	return "_" + segmentName + "_" + strconv.FormatInt(gen, 36) + Extension
}

// IsFileName reports whether name is a live-docs file name.
func IsFileName(name string) bool {
	return strings.HasPrefix(name, "_") && strings.HasSuffix(name, Extension)
}

// Option configures a Format.
type Option func(*Format)

// WithCompression sets the payload codec. The default is zstd.
func WithCompression(c Compression) Option {
	return func(f *Format) {
		f.compression = c
	}
}

// WithCache keeps decoded snapshots in c.
func WithCache(c *Cache) Option {
	return func(f *Format) {
		f.cache = c
	}
}

// WithResourceController throttles writes through rc.
func WithResourceController(rc *resource.Controller) Option {
	return func(f *Format) {
		f.rc = rc
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Format) {
		f.logger = l
	}
}

// Format reads and writes live-docs files. It is safe for concurrent use.
type Format struct {
	compression Compression
	cache       *Cache
	rc          *resource.Controller
	logger      *slog.Logger
}

// NewFormat returns a Format.
func NewFormat(optFns ...Option) *Format {
	f := &Format{
		compression: CompressionZSTD,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		fn(f)
	}
	return f
}

// WriteLiveDocs writes bits as the next live-docs generation of info. bits
// must hold exactly info.DelCount()+newDelCount deleted documents. The commit
// descriptor is not modified; the caller advances it on success.
func (f *Format) WriteLiveDocs(ctx context.Context, dir blobstore.Store, bits *bitmap.Snapshot, info *segment.CommitInfo, newDelCount int) error {
	if bits.Len() != info.Info.MaxDoc {
		return errors.Wrapf(ErrCountMismatch, "segment %s: bitmap covers %d docs, maxDoc=%d", info.Info.Name, bits.Len(), info.Info.MaxDoc)
	}
	delCount := bits.DeletedCount()
	if want := info.DelCount() + newDelCount; delCount != want {
		return errors.Wrapf(ErrCountMismatch, "segment %s: bitmap has %d deletes, expected %d", info.Info.Name, delCount, want)
	}

	data, codec, err := f.encode(bits, delCount)
	if err != nil {
		return err
	}

	name := FileName(info.Info.Name, info.NextWriteDelGen())
	w, err := dir.Create(ctx, name)
	if err != nil {
		return errors.Wrapf(err, "livedocs: create %s", name)
	}
	if _, err := resource.NewWriter(ctx, w, f.rc).Write(data); err != nil {
		_ = w.Abort()
		return errors.Wrapf(err, "livedocs: write %s", name)
	}
	if err := w.Sync(); err != nil {
		_ = w.Abort()
		return errors.Wrapf(err, "livedocs: sync %s", name)
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(err, "livedocs: close %s", name)
	}

	f.cache.Put(name, bits)
	f.logger.Debug("live docs written", "file", name, "del_count", delCount, "bytes", len(data), "codec", codec.String())
	return nil
}

// Delete removes the live-docs file name from dir and the cache.
func (f *Format) Delete(ctx context.Context, dir blobstore.Store, name string) error {
	f.cache.Remove(name)
	if err := dir.Delete(ctx, name); err != nil {
		return errors.Wrapf(err, "livedocs: delete %s", name)
	}
	return nil
}

func (f *Format) encode(bits *bitmap.Snapshot, delCount int) ([]byte, Compression, error) {
	var raw bytes.Buffer
	if _, err := bits.Deleted().WriteTo(&raw); err != nil {
		return nil, 0, errors.Wrap(err, "livedocs: serialize bitmap")
	}
	payload, codec, err := compress(raw.Bytes(), f.compression)
	if err != nil {
		return nil, 0, err
	}

	sizes, err := conv.Uint32s(bits.Len(), delCount, raw.Len(), len(payload))
	if err != nil {
		return nil, 0, errors.Wrap(err, "livedocs: header")
	}
	out := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint32(out[0:], magic)
	out[4] = version
	out[5] = byte(codec)
	binary.LittleEndian.PutUint32(out[8:], sizes[0])
	binary.LittleEndian.PutUint32(out[12:], sizes[1])
	binary.LittleEndian.PutUint32(out[16:], sizes[2])
	binary.LittleEndian.PutUint32(out[20:], sizes[3])
	binary.LittleEndian.PutUint32(out[24:], hash.CRC32C(payload))
	copy(out[headerSize:], payload)
	return out, codec, nil
}

// ReadLiveDocs reads the committed live docs of info. It returns nil when the
// segment has no persisted deletes.
func (f *Format) ReadLiveDocs(ctx context.Context, dir blobstore.Store, info *segment.CommitInfo) (*bitmap.Snapshot, error) {
	if !info.HasDeletions() {
		return nil, nil
	}
	name := FileName(info.Info.Name, info.DelGen())
	if s, ok := f.cache.Get(name); ok {
		return s, nil
	}

	data, err := blobstore.ReadAll(ctx, dir, name)
	if err != nil {
		return nil, errors.Wrapf(err, "livedocs: read %s", name)
	}
	s, err := decode(data, info.Info.MaxDoc, info.DelCount())
	if err != nil {
		return nil, errors.Wrapf(err, "livedocs: %s", name)
	}
	f.cache.Put(name, s)
	return s, nil
}

func decode(data []byte, maxDoc, delCount int) (*bitmap.Snapshot, error) {
	if len(data) < headerSize {
		return nil, errors.Wrapf(ErrCorrupt, "%d bytes is shorter than the header", len(data))
	}
	if m := binary.LittleEndian.Uint32(data[0:]); m != magic {
		return nil, errors.Wrapf(ErrCorrupt, "bad magic %#x", m)
	}
	if v := data[4]; v != version {
		return nil, errors.Wrapf(ErrCorrupt, "unsupported version %d", v)
	}
	codec := Compression(data[5])
	fileMaxDoc := int(binary.LittleEndian.Uint32(data[8:]))
	fileDelCount := int(binary.LittleEndian.Uint32(data[12:]))
	rawLen := int(binary.LittleEndian.Uint32(data[16:]))
	payloadLen := int(binary.LittleEndian.Uint32(data[20:]))
	sum := binary.LittleEndian.Uint32(data[24:])

	if fileMaxDoc != maxDoc {
		return nil, errors.Wrapf(ErrCorrupt, "maxDoc=%d, segment has %d", fileMaxDoc, maxDoc)
	}
	if fileDelCount != delCount {
		return nil, errors.Wrapf(ErrCountMismatch, "file has %d deletes, commit says %d", fileDelCount, delCount)
	}
	payload := data[headerSize:]
	if len(payload) != payloadLen {
		return nil, errors.Wrapf(ErrCorrupt, "payload is %d bytes, header says %d", len(payload), payloadLen)
	}
	if got := hash.CRC32C(payload); got != sum {
		return nil, errors.Wrapf(ErrCorrupt, "checksum %#x, expected %#x", got, sum)
	}

	raw, err := decompress(payload, codec, rawLen)
	if err != nil {
		return nil, err
	}
	deleted := roaring.New()
	if rawLen > 0 {
		if _, err := deleted.ReadFrom(bytes.NewReader(raw)); err != nil {
			return nil, errors.Wrapf(ErrCorrupt, "roaring: %v", err)
		}
	}
	if got := int(deleted.GetCardinality()); got != delCount {
		return nil, errors.Wrapf(ErrCountMismatch, "bitmap has %d deletes, header says %d", got, delCount)
	}
	if deleted.GetCardinality() > 0 && int(deleted.Maximum()) >= maxDoc {
		return nil, errors.Wrapf(ErrCorrupt, "deleted doc %d beyond maxDoc %d", deleted.Maximum(), maxDoc)
	}
	return bitmap.FromDeleted(deleted, maxDoc), nil
}
