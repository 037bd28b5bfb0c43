// Package handle provides generation checked references to objects owned
// outside of the spatial index.
package handle

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

const (
	ErrTypeInvalidHandle = "invalid_handle"
)

// Handle identifies an externally owned object. The zero value is the nil
// handle and is never issued by a Registry.
type Handle struct {
	Index      uint32
	Generation uint32
}

// Nil is the invalid handle.
var Nil = Handle{}

func (h Handle) IsNil() bool {
	return h.Generation == 0
}

// Uint64 packs the handle into a single integer, generation in the high bits.
func (h Handle) Uint64() uint64 {
	return uint64(h.Generation)<<32 | uint64(h.Index)
}

func FromUint64(v uint64) Handle {
	return Handle{
		Index:      uint32(v),
		Generation: uint32(v >> 32),
	}
}

func (h Handle) String() string {
	return fmt.Sprintf("%d:%d", h.Index, h.Generation)
}

// Parse parses a handle in its "index:generation" string form.
func Parse(s string) (Handle, error) {
	index, generation, ok := strings.Cut(s, ":")
	if !ok {
		return Nil, errors.New("handle is missing a generation").
			WithType(ErrTypeInvalidHandle).
			WithTag("handle", s)
	}

	i, err := strconv.ParseUint(index, 10, 32)
	if err != nil {
		return Nil, errors.New("parsing handle index failed").
			WithType(ErrTypeInvalidHandle).
			WithTag("handle", s).
			Wrap(err)
	}

	g, err := strconv.ParseUint(generation, 10, 32)
	if err != nil {
		return Nil, errors.New("parsing handle generation failed").
			WithType(ErrTypeInvalidHandle).
			WithTag("handle", s).
			Wrap(err)
	}

	return Handle{Index: uint32(i), Generation: uint32(g)}, nil
}

func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Handle) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// Registry issues handles and tracks which ones are still alive. Released
// indexes are reused in priority with a bumped generation so that handles to
// released objects can be detected.
type Registry struct {
	mutex       sync.Mutex
	generations []uint32
	alive       []bool
	reusable    []uint32
}

// New returns a live handle.
func (r *Registry) New() Handle {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if n := len(r.reusable); n != 0 {
		index := r.reusable[n-1]
		r.reusable = r.reusable[:n-1]

		r.generations[index]++
		if r.generations[index] == 0 {
			// wrapped, generation 0 is reserved for Nil
			r.generations[index] = 1
		}
		r.alive[index] = true
		return Handle{Index: index, Generation: r.generations[index]}
	}

	index := uint32(len(r.generations))
	r.generations = append(r.generations, 1)
	r.alive = append(r.alive, true)
	return Handle{Index: index, Generation: 1}
}

// Release invalidates h. It returns false when h was not alive.
func (r *Registry) Release(h Handle) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.valid(h) {
		return false
	}

	r.alive[h.Index] = false
	r.reusable = append(r.reusable, h.Index)
	return true
}

// Valid reports whether h was issued by the registry and not released since.
func (r *Registry) Valid(h Handle) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.valid(h)
}

func (r *Registry) valid(h Handle) bool {
	if h.IsNil() || int(h.Index) >= len(r.generations) {
		return false
	}
	return r.alive[h.Index] && r.generations[h.Index] == h.Generation
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return len(r.generations) - len(r.reusable)
}

// Clone returns an independent registry where the same handles are alive.
func (r *Registry) Clone() *Registry {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return &Registry{
		generations: append([]uint32(nil), r.generations...),
		alive:       append([]bool(nil), r.alive...),
		reusable:    append([]uint32(nil), r.reusable...),
	}
}
