package segmut

import "context"

// Close marks the writer closed. Outstanding packets and uncommitted deletes
// are discarded; call Commit first to keep them. Closing twice is a no-op.
func (w *Writer) Close() error {
	if w == nil || !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if n := w.seq.PendingUpdates(); n > 0 {
		w.logger.WarnContext(context.Background(), "closing with outstanding packets", "packets", n)
	}
	w.seq.Clear()
	return nil
}
