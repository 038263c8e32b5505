package topic

// HistorySize bounds both per-topic histories.
const HistorySize = 10

// ring keeps the newest HistorySize items, newest first.
type ring[T any] struct {
	buf  [HistorySize]T
	head int
	n    int
}

func (r *ring[T]) push(x T) {
	r.head = (r.head + HistorySize - 1) % HistorySize
	r.buf[r.head] = x
	if r.n < HistorySize {
		r.n++
	}
}

func (r *ring[T]) len() int { return r.n }

// front returns the newest item for in-place update. Callers check len first.
func (r *ring[T]) front() *T { return &r.buf[r.head] }

func (r *ring[T]) at(i int) (T, bool) {
	var zero T
	if i < 0 || i >= r.n {
		return zero, false
	}
	return r.buf[(r.head+i)%HistorySize], true
}

func (r *ring[T]) slice() []T {
	out := make([]T, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.head+i)%HistorySize]
	}
	return out
}
