package storage

import (
	"fmt"
	"slices"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

// writer appends MUS-encoded fields to a growing buffer.
type writer struct {
	bs []byte
}

func (w *writer) reserve(n int) []byte {
	w.bs = slices.Grow(w.bs, n)
	start := len(w.bs)
	w.bs = w.bs[:start+n]
	return w.bs[start:]
}

func (w *writer) uint64(v uint64) {
	varint.Uint64.Marshal(v, w.reserve(varint.Uint64.Size(v)))
}

func (w *writer) int64(v int64) {
	varint.Int64.Marshal(v, w.reserve(varint.Int64.Size(v)))
}

func (w *writer) int(v int) {
	w.int64(int64(v))
}

func (w *writer) bool(v bool) {
	ord.Bool.Marshal(v, w.reserve(ord.Bool.Size(v)))
}

func (w *writer) string(v string) {
	ord.String.Marshal(v, w.reserve(ord.String.Size(v)))
}

func (w *writer) float32(v float32) {
	raw.Float32.Marshal(v, w.reserve(raw.Float32.Size(v)))
}

// time stores microseconds since the epoch; the zero time is stored as 0.
func (w *writer) time(t time.Time) {
	if t.IsZero() {
		w.int64(0)
		return
	}
	w.int64(t.UnixMicro())
}

// vector stores a length prefix followed by fixed-width float32 values.
func (w *writer) vector(v []float32) {
	w.uint64(uint64(len(v)))
	for _, f := range v {
		w.float32(f)
	}
}

// metadata stores key/value pairs sorted by key so equal maps encode identically.
func (w *writer) metadata(m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	w.uint64(uint64(len(keys)))
	for _, k := range keys {
		w.string(k)
		w.string(m[k])
	}
}

// reader decodes MUS-encoded fields. The first failure sticks in err and
// turns every later read into a no-op.
type reader struct {
	bs  []byte
	off int
	err error
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
}

func (r *reader) uint64() uint64 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Uint64.Unmarshal(r.bs[r.off:])
	if err != nil {
		r.fail(err)
		return 0
	}
	r.off += n
	return v
}

func (r *reader) int64() int64 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Int64.Unmarshal(r.bs[r.off:])
	if err != nil {
		r.fail(err)
		return 0
	}
	r.off += n
	return v
}

func (r *reader) int() int {
	return int(r.int64())
}

func (r *reader) bool() bool {
	if r.err != nil {
		return false
	}
	v, n, err := ord.Bool.Unmarshal(r.bs[r.off:])
	if err != nil {
		r.fail(err)
		return false
	}
	r.off += n
	return v
}

func (r *reader) string() string {
	if r.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(r.bs[r.off:])
	if err != nil {
		r.fail(err)
		return ""
	}
	r.off += n
	return v
}

func (r *reader) float32() float32 {
	if r.err != nil {
		return 0
	}
	v, n, err := raw.Float32.Unmarshal(r.bs[r.off:])
	if err != nil {
		r.fail(err)
		return 0
	}
	r.off += n
	return v
}

func (r *reader) time() time.Time {
	us := r.int64()
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}

// length reads a collection length and checks that at least min bytes per
// element remain, so corrupt input cannot trigger huge allocations.
func (r *reader) length(min int) int {
	n := r.uint64()
	if r.err != nil {
		return 0
	}
	remaining := uint64(len(r.bs) - r.off)
	if min > 0 && n > remaining/uint64(min) {
		r.fail(fmt.Errorf("%w: %d elements", ErrTruncatedData, n))
		return 0
	}
	if min == 0 && n > remaining {
		r.fail(fmt.Errorf("%w: %d elements", ErrTruncatedData, n))
		return 0
	}
	return int(n)
}

func (r *reader) vector() []float32 {
	n := r.length(4)
	if r.err != nil || n == 0 {
		return nil
	}
	v := make([]float32, n)
	for i := range v {
		v[i] = r.float32()
	}
	return v
}

func (r *reader) metadata() map[string]string {
	n := r.length(2)
	if r.err != nil || n == 0 {
		return nil
	}
	m := make(map[string]string, n)
	for range n {
		k := r.string()
		m[k] = r.string()
	}
	return m
}

// done returns the first decoding error, if any.
func (r *reader) done() error {
	return r.err
}
