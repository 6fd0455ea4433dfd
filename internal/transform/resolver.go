package transform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/planefit/internal/timeutil"
)

// errPoseAhead marks a failure caused by a query newer than the latest
// sample, which ResolveWait may recover from by waiting.
var errPoseAhead = errors.New("requested time is ahead of the latest pose")

// ResolverConfig tunes pose lookup.
type ResolverConfig struct {
	// Tolerance is how far a sample may be from the requested time and
	// still be used.
	Tolerance time.Duration
	// WaitTimeout bounds ResolveWait. Zero means fail fast.
	WaitTimeout time.Duration
	// HistorySize is the number of samples kept per edge.
	HistorySize int
}

// DefaultResolverConfig returns the production defaults.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		Tolerance:   50 * time.Millisecond,
		WaitTimeout: 30 * time.Millisecond,
		HistorySize: 256,
	}
}

type edgeKey struct {
	from, to FrameID
}

// Resolver answers (source, target, time) transform queries from pushed
// pose samples and static extrinsics. It is safe for one or more sensor
// goroutines to Record while render goroutines Resolve.
type Resolver struct {
	cfg   ResolverConfig
	clock timeutil.Clock

	mu      sync.RWMutex
	static  map[edgeKey]RigidTransform
	history map[edgeKey][]RigidTransform // ascending by timestamp
	notify  chan struct{}                // closed on every Record
}

// NewResolver creates a resolver. A nil clock uses the real clock.
func NewResolver(cfg ResolverConfig, clock timeutil.Clock) *Resolver {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultResolverConfig().HistorySize
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Resolver{
		cfg:     cfg,
		clock:   clock,
		static:  make(map[edgeKey]RigidTransform),
		history: make(map[edgeKey][]RigidTransform),
		notify:  make(chan struct{}),
	}
}

// SetStatic registers a time-invariant edge such as a sensor extrinsic.
func (r *Resolver) SetStatic(t RigidTransform) error {
	if t.From == t.To || t.From == "" || t.To == "" {
		return fmt.Errorf("invalid static edge %q->%q", t.From, t.To)
	}
	t.Rotation = t.Rotation.Normalize()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.static[edgeKey{t.From, t.To}] = t
	return nil
}

// Record stores a timestamped pose sample for the edge t.From→t.To.
func (r *Resolver) Record(t RigidTransform) error {
	if t.From == t.To || t.From == "" || t.To == "" {
		return fmt.Errorf("invalid pose edge %q->%q", t.From, t.To)
	}
	if t.Rotation.Len() == 0 {
		return fmt.Errorf("pose %s->%s has a zero rotation quaternion", t.From, t.To)
	}
	t.Rotation = t.Rotation.Normalize()

	r.mu.Lock()
	defer r.mu.Unlock()

	key := edgeKey{t.From, t.To}
	h := r.history[key]
	i := sort.Search(len(h), func(i int) bool { return h[i].TimestampNanos >= t.TimestampNanos })
	switch {
	case i < len(h) && h[i].TimestampNanos == t.TimestampNanos:
		h[i] = t
	default:
		h = append(h, RigidTransform{})
		copy(h[i+1:], h[i:])
		h[i] = t
	}
	if over := len(h) - r.cfg.HistorySize; over > 0 {
		h = append(h[:0], h[over:]...)
	}
	r.history[key] = h

	close(r.notify)
	r.notify = make(chan struct{})
	return nil
}

// Latest returns the newest sample recorded for an edge.
func (r *Resolver) Latest(from, to FrameID) (RigidTransform, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h := r.history[edgeKey{from, to}]
	if len(h) == 0 {
		return RigidTransform{}, false
	}
	return h[len(h)-1], true
}

// Reset drops all recorded samples. Static edges are kept.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = make(map[edgeKey][]RigidTransform)
}

// Resolve returns the transform src→dst at ts by composing known edges.
func (r *Resolver) Resolve(src, dst FrameID, ts int64) (RigidTransform, error) {
	if src == dst {
		t := Identity(src, dst)
		t.TimestampNanos = ts
		return t, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	path := r.pathLocked(src, dst)
	if path == nil {
		return RigidTransform{}, fmt.Errorf("%w: no chain from %s to %s", ErrPoseUnavailable, src, dst)
	}

	var out RigidTransform
	for i, st := range path {
		t, err := r.sampleLocked(st.key, ts)
		if err != nil {
			return RigidTransform{}, err
		}
		if st.inverse {
			t = t.Inverse()
		}
		if i == 0 {
			out = t
			continue
		}
		if out, err = out.Compose(t); err != nil {
			return RigidTransform{}, err
		}
	}
	out.TimestampNanos = ts
	return out, nil
}

// ResolveWait is Resolve, but when ts is newer than the latest pose it
// waits for fresh samples for at most WaitTimeout before giving up.
func (r *Resolver) ResolveWait(ctx context.Context, src, dst FrameID, ts int64) (RigidTransform, error) {
	var deadline <-chan time.Time
	for {
		r.mu.RLock()
		notify := r.notify
		r.mu.RUnlock()

		t, err := r.Resolve(src, dst, ts)
		if err == nil || !errors.Is(err, errPoseAhead) || r.cfg.WaitTimeout <= 0 {
			return t, err
		}
		if deadline == nil {
			deadline = r.clock.After(r.cfg.WaitTimeout)
		}
		select {
		case <-notify:
		case <-deadline:
			return RigidTransform{}, err
		case <-ctx.Done():
			return RigidTransform{}, fmt.Errorf("%w: %w", ErrPoseUnavailable, ctx.Err())
		}
	}
}

type step struct {
	key     edgeKey
	inverse bool
}

// pathLocked finds the shortest edge chain src→dst. Neighbours are visited
// in sorted order so equal-length alternatives resolve the same way every
// time.
func (r *Resolver) pathLocked(src, dst FrameID) []step {
	adj := make(map[FrameID][]FrameID)
	edges := make(map[edgeKey]step)
	add := func(k edgeKey) {
		if _, ok := edges[edgeKey{k.from, k.to}]; !ok {
			adj[k.from] = append(adj[k.from], k.to)
			adj[k.to] = append(adj[k.to], k.from)
		}
		edges[edgeKey{k.from, k.to}] = step{key: k}
		if _, ok := edges[edgeKey{k.to, k.from}]; !ok {
			edges[edgeKey{k.to, k.from}] = step{key: k, inverse: true}
		}
	}
	for k := range r.static {
		add(k)
	}
	for k, h := range r.history {
		if len(h) > 0 {
			add(k)
		}
	}
	for f := range adj {
		sort.Slice(adj[f], func(i, j int) bool { return adj[f][i] < adj[f][j] })
	}

	prev := map[FrameID]FrameID{src: src}
	queue := []FrameID{src}
	for len(queue) > 0 && prev[dst] == "" {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range adj[cur] {
			if _, seen := prev[n]; seen {
				continue
			}
			prev[n] = cur
			queue = append(queue, n)
		}
	}
	if _, ok := prev[dst]; !ok {
		return nil
	}

	var path []step
	for at := dst; at != src; at = prev[at] {
		path = append(path, edges[edgeKey{prev[at], at}])
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// sampleLocked evaluates one edge at ts.
func (r *Resolver) sampleLocked(key edgeKey, ts int64) (RigidTransform, error) {
	if t, ok := r.static[key]; ok {
		t.TimestampNanos = ts
		return t, nil
	}
	h := r.history[key]
	if len(h) == 0 {
		return RigidTransform{}, fmt.Errorf("%w: no samples for %s->%s", ErrPoseUnavailable, key.from, key.to)
	}
	tol := r.cfg.Tolerance.Nanoseconds()
	within := func(t RigidTransform) bool {
		d := t.TimestampNanos - ts
		if d < 0 {
			d = -d
		}
		return d <= tol
	}

	i := sort.Search(len(h), func(i int) bool { return h[i].TimestampNanos >= ts })
	switch {
	case i < len(h) && h[i].TimestampNanos == ts:
		return h[i], nil
	case i == len(h):
		latest := h[len(h)-1]
		if within(latest) {
			return latest, nil
		}
		return RigidTransform{}, fmt.Errorf("%w: %s->%s latest sample at %d, requested %d: %w",
			ErrPoseUnavailable, key.from, key.to, latest.TimestampNanos, ts, errPoseAhead)
	case i == 0:
		if within(h[0]) {
			return h[0], nil
		}
	default:
		before, after := h[i-1], h[i]
		if within(before) && within(after) {
			return Interpolate(before, after, ts), nil
		}
		if ts-before.TimestampNanos <= after.TimestampNanos-ts && within(before) {
			return before, nil
		}
		if within(after) {
			return after, nil
		}
		if within(before) {
			return before, nil
		}
	}
	return RigidTransform{}, fmt.Errorf("%w: %s->%s has no sample within %s of %d",
		ErrPoseUnavailable, key.from, key.to, r.cfg.Tolerance, ts)
}
