package blobstore

import (
	"context"
	"slices"
	"sync"
)

// TrackingStore records every name its wrapped Store was asked to create, so
// that a caller can delete the leftovers of a failed write.
type TrackingStore struct {
	Store

	mu      sync.Mutex
	created []string
}

// NewTrackingStore wraps s.
func NewTrackingStore(s Store) *TrackingStore {
	return &TrackingStore{Store: s}
}

func (t *TrackingStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	t.track(name)
	return t.Store.Create(ctx, name)
}

func (t *TrackingStore) Put(ctx context.Context, name string, data []byte) error {
	t.track(name)
	return t.Store.Put(ctx, name, data)
}

func (t *TrackingStore) track(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !slices.Contains(t.created, name) {
		t.created = append(t.created, name)
	}
}

// CreatedFiles returns the tracked names in creation order.
func (t *TrackingStore) CreatedFiles() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.created)
}
