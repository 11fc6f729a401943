// Package rsqf implements a rank-select quotient filter: a compact
// approximate-membership structure in the bloom/cuckoo family, favored here
// over a bloom filter for its space/false-positive-rate tradeoff and over a
// cuckoo or xor filter for its support of incremental, streaming inserts.
//
// Each slot holds an r-bit remainder plus three metadata bits — occupied,
// continuation, shifted — following the classical quotient filter design
// (Bender et al., "Don't Thrash: How to Cache Your Hash in Flash"). occupied
// is indexed by canonical quotient and records that some run exists for that
// quotient, wherever it has physically ended up; continuation marks a slot
// holding a non-first element of a run; shifted marks a slot holding an
// element displaced from its canonical position by a collision.
package rsqf

import (
	"errors"
	"math"
	"math/bits"
	"sync"

	"github.com/dgryski/go-metro"
	"github.com/zeebo/errs"

	"ipwned/config"
)

// Error is the error class for this package.
var Error = errs.Class("rsqf")

// ErrCapacityExceeded is returned by Insert once the number of distinct
// entries would exceed the capacity the filter was created with. It is
// terminal and non-retryable: the caller must rebuild with a larger
// capacity.
var ErrCapacityExceeded = errors.New("rsqf: capacity exceeded")

const minLoadFactor = 0.95

// Filter is a mutable rank-select quotient filter sized at creation from a
// planned capacity and target false-positive rate. Both parameters are
// immutable once set and are persisted with the filter body.
type Filter struct {
	mu sync.RWMutex

	capacity uint64
	fpr      float64

	qBits uint64 // quotient bits; numSlots == 1<<qBits
	rBits uint   // remainder bits

	numSlots uint64
	numEntries uint64

	occupied     *bitVector
	continuation *bitVector
	shifted      *bitVector
	remainders   *packedArray
}

// New allocates a filter sized for capacity distinct entries at a target
// false-positive rate fpr. Both are frozen for the life of the filter.
func New(capacity uint64, fpr float64) (*Filter, error) {
	if capacity == 0 {
		return nil, Error.New("capacity must be > 0")
	}
	if fpr <= 0 || fpr >= 1 {
		return nil, Error.New("fpr must be in (0, 1), got %v", fpr)
	}

	minSlots := uint64(math.Ceil(float64(capacity) / minLoadFactor))
	qBits := uint64(bits.Len64(minSlots - 1))
	if qBits == 0 {
		qBits = 1
	}
	numSlots := uint64(1) << qBits

	rBits := uint(math.Ceil(math.Log2(1 / fpr)))
	if rBits < 2 {
		rBits = 2
	}
	if rBits > 56 {
		rBits = 56
	}

	return &Filter{
		capacity:     capacity,
		fpr:          fpr,
		qBits:        qBits,
		rBits:        rBits,
		numSlots:     numSlots,
		occupied:     newBitVector(numSlots),
		continuation: newBitVector(numSlots),
		shifted:      newBitVector(numSlots),
		remainders:   newPackedArray(numSlots, rBits),
	}, nil
}

// Capacity returns the planned maximum number of distinct entries.
func (f *Filter) Capacity() uint64 { return f.capacity }

// FPR returns the target false-positive rate.
func (f *Filter) FPR() float64 { return f.fpr }

// Len returns the number of distinct entries currently inserted.
func (f *Filter) Len() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.numEntries
}

// LoadFactor returns numEntries / capacity.
func (f *Filter) LoadFactor() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return float64(f.numEntries) / float64(f.capacity)
}

func (f *Filter) fingerprint(hash [config.HashSize]byte) (quotient uint64, remainder uint64) {
	q := metro.Hash64(hash[:], uint64(config.FingerprintQuotientSeed))
	r := metro.Hash64(hash[:], uint64(config.FingerprintRemainderSeed))
	quotient = q & (f.numSlots - 1)
	remainder = r & ((uint64(1) << f.rBits) - 1)
	return
}

func (f *Filter) next(i uint64) uint64 { return (i + 1) & (f.numSlots - 1) }
func (f *Filter) prev(i uint64) uint64 { return (i - 1) & (f.numSlots - 1) }

func (f *Filter) isEmptySlot(i uint64) bool {
	return !f.occupied.get(i) && !f.continuation.get(i) && !f.shifted.get(i)
}

// countOccupied counts set bits of occupied in the inclusive range [from,
// to], following next() (and therefore wrapping around numSlots).
func (f *Filter) countOccupied(from, to uint64) uint64 {
	var count uint64
	i := from
	for {
		if f.occupied.get(i) {
			count++
		}
		if i == to {
			break
		}
		i = f.next(i)
	}
	return count
}

// findRun locates the physical slot where quotient q's run starts. It
// assumes occupied(q) has already been set to true by the caller (Insert
// sets it before calling findRun so a brand-new run is correctly ordered
// against its neighbors; Contains only calls findRun when occupied(q) is
// already true).
func (f *Filter) findRun(q uint64) uint64 {
	start := q
	for f.shifted.get(start) {
		start = f.prev(start)
	}

	rank := f.countOccupied(start, q)

	pos := start
	var seen uint64
	for {
		if !f.continuation.get(pos) {
			seen++
			if seen == rank {
				return pos
			}
		}
		pos = f.next(pos)
	}
}

// Contains reports whether hash was previously inserted. It never returns a
// false negative; it may return a false positive with probability at most
// FPR().
func (f *Filter) Contains(hash [config.HashSize]byte) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	q, r := f.fingerprint(hash)
	if !f.occupied.get(q) {
		return false
	}

	pos := f.findRun(q)
	for {
		if f.remainders.get(pos) == r {
			return true
		}
		next := f.next(pos)
		if !f.continuation.get(next) {
			return false
		}
		pos = next
	}
}

// Insert adds hash to the filter. Repeated insertion of the same hash is a
// no-op (membership is unchanged). Once the number of distinct entries
// would exceed Capacity(), Insert returns ErrCapacityExceeded and leaves
// the filter unmodified.
func (f *Filter) Insert(hash [config.HashSize]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	q, r := f.fingerprint(hash)

	if f.occupied.get(q) {
		pos := f.findRun(q)
		for {
			if f.remainders.get(pos) == r {
				return nil // already present, idempotent
			}
			next := f.next(pos)
			if !f.continuation.get(next) {
				break
			}
			pos = next
		}
		if f.numEntries >= f.capacity {
			return ErrCapacityExceeded
		}
		insertAt := f.next(pos)
		f.shiftInsert(insertAt, r, true, insertAt != q)
		f.numEntries++
		return nil
	}

	if f.numEntries >= f.capacity {
		return ErrCapacityExceeded
	}

	if f.isEmptySlot(q) {
		f.occupied.set(q, true)
		f.remainders.set(q, r)
		// continuation and shifted are already false for a previously
		// empty slot.
		f.numEntries++
		return nil
	}

	f.occupied.set(q, true)
	insertAt := f.findRun(q)
	f.shiftInsert(insertAt, r, false, insertAt != q)
	f.numEntries++
	return nil
}

// shiftInsert places (remainder=r, continuation=cont, shifted=firstShifted)
// at slot pos, cascading every subsequent occupant one slot to the right
// until an empty slot absorbs the tail of the chain.
func (f *Filter) shiftInsert(pos uint64, r uint64, cont bool, firstShifted bool) {
	curR, curCont, curShifted := r, cont, firstShifted
	i := pos
	for {
		empty := f.isEmptySlot(i)

		var nextR uint64
		var nextCont bool
		if !empty {
			nextR = f.remainders.get(i)
			nextCont = f.continuation.get(i)
		}

		f.remainders.set(i, curR)
		f.continuation.set(i, curCont)
		f.shifted.set(i, curShifted)

		if empty {
			return
		}

		curR, curCont, curShifted = nextR, nextCont, true
		i = f.next(i)
	}
}
