package controller

type touchEvent struct {
	x, y float64
}

// touchQueue is a bounded multi-producer queue of touches drained by the
// render thread. Accepted touches are never evicted.
type touchQueue struct {
	ch chan touchEvent
}

func newTouchQueue(size int) *touchQueue {
	if size <= 0 {
		size = 1
	}
	return &touchQueue{ch: make(chan touchEvent, size)}
}

// offer enqueues ev without blocking and reports whether it fit.
func (q *touchQueue) offer(ev touchEvent) bool {
	select {
	case q.ch <- ev:
		return true
	default:
		return false
	}
}

// drain returns every queued touch in arrival order.
func (q *touchQueue) drain() []touchEvent {
	var out []touchEvent
	for {
		select {
		case ev := <-q.ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (q *touchQueue) len() int {
	return len(q.ch)
}
