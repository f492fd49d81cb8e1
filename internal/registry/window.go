package registry

import (
	"time"

	"github.com/sendwave/campaign-engine/internal/failover"
)

// window counts delivery outcomes in per-second buckets over a trailing
// duration. Not safe for concurrent use; the owning sender entry serializes
// access.
type window struct {
	span    time.Duration
	buckets []bucket
}

type bucket struct {
	sec    int64
	sent   int
	failed int
}

func newWindow(span time.Duration) *window {
	if span <= 0 {
		span = 15 * time.Minute
	}
	return &window{span: span}
}

// add records one outcome. Webhook timestamps arrive out of order, so the
// bucket for a second may be behind the tail; find it rather than assume
// the tail is newest.
func (w *window) add(t time.Time, failed bool) {
	w.prune(t)

	sec := t.Unix()
	idx := -1
	for i := len(w.buckets) - 1; i >= 0; i-- {
		if w.buckets[i].sec == sec {
			idx = i
			break
		}
	}
	if idx < 0 {
		w.buckets = append(w.buckets, bucket{sec: sec})
		idx = len(w.buckets) - 1
	}
	if failed {
		w.buckets[idx].failed++
	} else {
		w.buckets[idx].sent++
	}
}

func (w *window) stats(now time.Time) failover.WindowStats {
	w.prune(now)

	var s failover.WindowStats
	for _, b := range w.buckets {
		s.Sent += b.sent
		s.Failed += b.failed
	}
	return s
}

// prune drops every expired bucket. The slice is not sorted by second when
// signals arrived out of order, so the whole slice is scanned.
func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.span).Unix()
	kept := w.buckets[:0]
	for _, b := range w.buckets {
		if b.sec >= cutoff {
			kept = append(kept, b)
		}
	}
	w.buckets = kept
}
