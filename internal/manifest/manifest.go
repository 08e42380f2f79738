package manifest

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/hupe1980/segmut/blobstore"
	"github.com/hupe1980/segmut/segment"
)

const (
	// SegmentsPrefix prefixes every segments file.
	SegmentsPrefix = "segments_"
	// CurrentFileName names the pointer to the current segments file.
	CurrentFileName = "CURRENT"
)

// Manifest is one commit point.
type Manifest struct {
	// Gen is the commit generation. Save assigns it.
	Gen       int64     `msgpack:"gen"`
	CreatedAt time.Time `msgpack:"created_at"`
	// CompletedDelGen is the sequencer watermark at commit time.
	CompletedDelGen int64                 `msgpack:"completed_del_gen"`
	Segments        []segment.CommitState `msgpack:"segments"`
	UserData        map[string]string     `msgpack:"user_data,omitempty"`
}

// Segment returns the committed state of name.
func (m *Manifest) Segment(name string) (segment.CommitState, bool) {
	i := slices.IndexFunc(m.Segments, func(s segment.CommitState) bool { return s.Name == name })
	if i < 0 {
		return segment.CommitState{}, false
	}
	return m.Segments[i], true
}

// FileName returns the segments file of gen.
func FileName(gen int64) string {
	return SegmentsPrefix + strconv.FormatInt(gen, 36)
}

// ParseFileName returns the generation of a segments file name.
func ParseFileName(name string) (int64, bool) {
	s, ok := strings.CutPrefix(name, SegmentsPrefix)
	if !ok {
		return 0, false
	}
	gen, err := strconv.ParseInt(s, 36, 64)
	if err != nil || gen <= 0 {
		return 0, false
	}
	return gen, true
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Store manages segments files and the CURRENT pointer.
type Store struct {
	store  blobstore.Store
	logger *slog.Logger
	mu     sync.Mutex
}

// NewStore returns a manifest store over store.
func NewStore(store blobstore.Store, optFns ...Option) *Store {
	s := &Store{
		store:  store,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		fn(s)
	}
	return s
}

// Load loads the current commit point. It returns ErrNotFound if none was
// saved and ErrCorrupt if CURRENT names a missing or invalid file.
func (s *Store) Load(ctx context.Context) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := blobstore.ReadAll(ctx, s.store, CurrentFileName)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "manifest: read CURRENT")
	}
	gen, ok := ParseFileName(strings.TrimSpace(string(content)))
	if !ok {
		return nil, errors.Wrapf(ErrCorrupt, "CURRENT names %q", content)
	}
	m, err := s.load(ctx, gen)
	if errors.Is(err, ErrNotFound) {
		return nil, errors.Wrapf(ErrCorrupt, "CURRENT names missing %s", FileName(gen))
	}
	return m, err
}

// LoadGen loads the commit point of gen.
func (s *Store) LoadGen(ctx context.Context, gen int64) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx, gen)
}

func (s *Store) load(ctx context.Context, gen int64) (*Manifest, error) {
	name := FileName(gen)
	data, err := blobstore.ReadAll(ctx, s.store, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "%s", name)
		}
		return nil, errors.Wrapf(err, "manifest: open %s", name)
	}
	m, err := Unmarshal(data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", name)
	}
	if m.Gen != gen {
		return nil, errors.Wrapf(ErrCorrupt, "%s holds gen %d", name, m.Gen)
	}
	return m, nil
}

// Generations returns the generations of the stored segments files,
// ascending.
func (s *Store) Generations(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.store.List(ctx, SegmentsPrefix)
	if err != nil {
		return nil, errors.Wrap(err, "manifest: list")
	}
	gens := make([]int64, 0, len(names))
	for _, name := range names {
		if gen, ok := ParseFileName(name); ok {
			gens = append(gens, gen)
		}
	}
	slices.Sort(gens)
	return gens, nil
}

// Save writes m as the next commit point after the highest existing
// generation and makes it current. m.Gen and m.CreatedAt are set on success.
func (s *Store) Save(ctx context.Context, m *Manifest) error {
	gens, err := s.Generations(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := *m
	next.Gen = max(m.Gen, 0) + 1
	if len(gens) > 0 {
		next.Gen = max(next.Gen, gens[len(gens)-1]+1)
	}
	next.CreatedAt = time.Now().UTC()

	data, err := Marshal(&next)
	if err != nil {
		return err
	}
	name := FileName(next.Gen)
	if err := s.putSegments(ctx, name, data); err != nil {
		if errors.Is(err, blobstore.ErrExists) {
			return errors.Wrapf(ErrConcurrentCommit, "%s exists", name)
		}
		return errors.Wrapf(err, "manifest: write %s", name)
	}
	if err := s.store.Put(ctx, CurrentFileName, []byte(name)); err != nil {
		if derr := s.store.Delete(context.WithoutCancel(ctx), name); derr != nil {
			s.logger.Warn("failed to remove unreferenced segments file", "file", name, "error", derr)
		}
		if errors.Is(err, blobstore.ErrExists) {
			return errors.Wrapf(ErrConcurrentCommit, "CURRENT already names generation %d", next.Gen)
		}
		return errors.Wrap(err, "manifest: write CURRENT")
	}

	m.Gen, m.CreatedAt = next.Gen, next.CreatedAt
	s.logger.Debug("commit point saved", "gen", next.Gen, "segments", len(next.Segments))
	return nil
}

// putSegments publishes a segments file, exclusively where the store
// supports it, so two writers never share a generation.
func (s *Store) putSegments(ctx context.Context, name string, data []byte) error {
	if ep, ok := s.store.(blobstore.ExclusivePutter); ok {
		return ep.PutIfAbsent(ctx, name, data)
	}
	return s.store.Put(ctx, name, data)
}

// Prune deletes all but the newest keep segments files. keep is at least 1.
func (s *Store) Prune(ctx context.Context, keep int) error {
	gens, err := s.Generations(ctx)
	if err != nil {
		return err
	}
	if keep < 1 {
		keep = 1
	}
	if len(gens) <= keep {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var errs error
	for _, gen := range gens[:len(gens)-keep] {
		if err := s.store.Delete(ctx, FileName(gen)); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}
