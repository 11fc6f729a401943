package rsqf

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
)

// magic identifies the on-disk format; version allows the layout to change
// without silently misreading an older file.
const (
	magic   uint32 = 0x46515352 // "RSQF" little-endian
	version uint8  = 1
)

func writeUint64(w *bufio.Writer, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeUint32(w *bufio.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// WriteTo serializes the filter to w in a self-describing binary format
// carrying capacity, fpr, and all internal state sufficient to resume
// inserts. The round trip preserves membership bit-for-bit.
func (f *Filter) WriteTo(w io.Writer) (int64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	bw := bufio.NewWriter(w)
	var n int64

	if err := writeUint32(bw, magic); err != nil {
		return n, err
	}
	n += 4
	if err := bw.WriteByte(version); err != nil {
		return n, err
	}
	n++

	var fprBits [8]byte
	binary.LittleEndian.PutUint64(fprBits[:], math.Float64bits(f.fpr))

	for _, v := range []uint64{
		f.capacity,
		f.qBits,
		uint64(f.rBits),
		f.numSlots,
		f.numEntries,
	} {
		if err := writeUint64(bw, v); err != nil {
			return n, err
		}
		n += 8
	}
	if _, err := bw.Write(fprBits[:]); err != nil {
		return n, err
	}
	n += 8

	for _, words := range [][]uint64{f.occupied.words, f.continuation.words, f.shifted.words, f.remainders.words} {
		if err := writeUint64(bw, uint64(len(words))); err != nil {
			return n, err
		}
		n += 8
		for _, w64 := range words {
			if err := writeUint64(bw, w64); err != nil {
				return n, err
			}
			n += 8
		}
	}

	if err := bw.Flush(); err != nil {
		return n, err
	}
	return n, nil
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// ReadFrom deserializes a filter previously written by WriteTo.
func ReadFrom(r io.Reader) (*Filter, error) {
	br := bufio.NewReader(r)

	m, err := readUint32(br)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if m != magic {
		return nil, Error.New("bad magic: %x", m)
	}
	v, err := br.ReadByte()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if v != version {
		return nil, Error.New("unsupported filter version: %d", v)
	}

	capacity, err := readUint64(br)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	qBits, err := readUint64(br)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	rBitsRaw, err := readUint64(br)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	numSlots, err := readUint64(br)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	numEntries, err := readUint64(br)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	fprBits, err := readUint64(br)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	f := &Filter{
		capacity:   capacity,
		fpr:        math.Float64frombits(fprBits),
		qBits:      qBits,
		rBits:      uint(rBitsRaw),
		numSlots:   numSlots,
		numEntries: numEntries,
	}

	bitVecs := make([]*bitVector, 3)
	for i := range bitVecs {
		n, err := readUint64(br)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		bv := &bitVector{words: make([]uint64, n), n: numSlots}
		for j := range bv.words {
			bv.words[j], err = readUint64(br)
			if err != nil {
				return nil, Error.Wrap(err)
			}
		}
		bitVecs[i] = bv
	}
	f.occupied, f.continuation, f.shifted = bitVecs[0], bitVecs[1], bitVecs[2]

	n, err := readUint64(br)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	remWords := make([]uint64, n)
	for j := range remWords {
		remWords[j], err = readUint64(br)
		if err != nil {
			return nil, Error.Wrap(err)
		}
	}
	f.remainders = &packedArray{
		words: remWords,
		width: f.rBits,
		mask:  (uint64(1) << f.rBits) - 1,
		n:     numSlots,
	}

	return f, nil
}
