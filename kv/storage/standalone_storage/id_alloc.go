package standalone_storage

import (
	"sync"

	"github.com/coocood/badger"
	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinyobj/kv/storage/meta"
	"go.uber.org/atomic"
)

// idAllocator hands out ids from blocks reserved in the header counter at key. Only the refill touches the engine;
// every other Alloc is a compare-and-swap on the in-memory range [cur, end).
type idAllocator struct {
	db        *badger.DB
	key       uint64
	name      string
	blockSize uint64

	cur atomic.Uint64
	end atomic.Uint64
	// mu serializes refills.
	mu sync.Mutex
}

func newIDAllocator(db *badger.DB, key uint64, name string, blockSize uint64) *idAllocator {
	return &idAllocator{db: db, key: key, name: name, blockSize: blockSize}
}

func (a *idAllocator) Alloc() (uint64, error) {
	for {
		end := a.end.Load()
		cur := a.cur.Load()
		if cur < end {
			if a.cur.CAS(cur, cur+1) {
				return cur, nil
			}
			continue
		}
		if err := a.refill(); err != nil {
			return 0, err
		}
	}
}

func (a *idAllocator) refill() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cur.Load() < a.end.Load() {
		return nil
	}
	first, last, err := meta.AllocateBlock(a.db, a.key, a.blockSize)
	if err != nil {
		return err
	}
	// cur goes first so that no reader pairs the new end with the old cur.
	a.cur.Store(first)
	a.end.Store(last)
	idBlockCounter.WithLabelValues(a.name).Inc()
	log.Debugf("reserved %s ids [%d, %d)", a.name, first, last)
	return nil
}
