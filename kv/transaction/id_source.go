package transaction

import "go.uber.org/atomic"

type memIDSource struct {
	next atomic.Uint64
}

// NewMemIDSource returns an IDSource which counts up from 1. Identifiers are only unique within the process.
func NewMemIDSource() IDSource {
	return new(memIDSource)
}

func (s *memIDSource) NextTxnID() (uint64, error) {
	return s.next.Inc(), nil
}
