package fedavg

// A Dataset is a finite, restartable, ordered sequence of training
// batches. The round computations only ever consume it in a single
// sequential pass.
type Dataset[B any] interface {
	// Reset returns the cursor to the first batch.
	Reset()

	// Next returns the next batch in order, or false once the
	// sequence is exhausted.
	Next() (B, bool)
}

// A SliceDataset serves batches from an in-memory slice.
type SliceDataset[B any] struct {
	Batches []B
	cursor  int
}

// NewSliceDataset creates a dataset over the given batches.
// The slice is not copied.
func NewSliceDataset[B any](batches []B) *SliceDataset[B] {
	return &SliceDataset[B]{Batches: batches}
}

// Reset returns the cursor to the first batch.
func (s *SliceDataset[B]) Reset() {
	s.cursor = 0
}

// Next returns the next batch in order.
func (s *SliceDataset[B]) Next() (B, bool) {
	if s.cursor >= len(s.Batches) {
		var zero B
		return zero, false
	}
	b := s.Batches[s.cursor]
	s.cursor++
	return b, true
}
