package k648x

import (
	"fmt"

	"github.com/pkg/errors"
)

// Read fetches the parameter bound to h as kind k. A nil error with
// Value.Valid false means the parameter does not serve that kind (or, for
// READ as int32, that only the cache was refreshed).
func (s *Session) Read(h Handle, k Kind) (Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return noValue(k), errors.Wrapf(ErrNotReady, "port %s", s.cfg.Name)
	}
	if !h.bound {
		return noValue(k), errors.Wrapf(ErrResolution, "port %s: unbound handle", s.cfg.Name)
	}
	if !h.variant.permits(s.cfg.Variant) {
		return noValue(k), errors.Wrapf(ErrWrongVariant, "port %s: tag %q", s.cfg.Name, h.tag)
	}

	switch h.class {
	case ClassGeneral:
		return s.readGeneral(generalOp(h.op), k)
	case ClassSimple:
		return s.readSimple(h.op, k)
	case ClassCache:
		return s.readCache(cacheOp(h.op), k), nil
	}
	return noValue(k), fmt.Errorf("k648x: unknown dispatch class %d", h.class)
}

// Write sends v to the parameter bound to h. Kinds a parameter does not
// accept are dropped without I/O and without error.
func (s *Session) Write(h Handle, v Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.Wrapf(ErrNotReady, "port %s", s.cfg.Name)
	}
	if !h.bound {
		return errors.Wrapf(ErrResolution, "port %s: unbound handle", s.cfg.Name)
	}
	if !h.variant.permits(s.cfg.Variant) {
		return errors.Wrapf(ErrWrongVariant, "port %s: tag %q", s.cfg.Name, h.tag)
	}

	switch h.class {
	case ClassGeneral:
		return s.writeGeneral(generalOp(h.op), v)
	case ClassSimple:
		return s.writeSimple(h.op, v)
	case ClassCache:
		return nil
	}
	return fmt.Errorf("k648x: unknown dispatch class %d", h.class)
}

// ReadInt32 reads h as an int32. ok is false when no value was produced.
func (s *Session) ReadInt32(h Handle) (v int32, ok bool, err error) {
	val, err := s.Read(h, KindInt32)
	return val.Int32, val.Valid, err
}

// ReadFloat64 reads h as a float64. ok is false when no value was produced.
func (s *Session) ReadFloat64(h Handle) (v float64, ok bool, err error) {
	val, err := s.Read(h, KindFloat64)
	return val.Float64, val.Valid, err
}

// ReadOctet reads h as a string of at most 39 bytes.
func (s *Session) ReadOctet(h Handle) (Value, error) {
	return s.Read(h, KindOctet)
}

func (s *Session) WriteInt32(h Handle, v int32) error     { return s.Write(h, Int32Value(v)) }
func (s *Session) WriteFloat64(h Handle, v float64) error { return s.Write(h, Float64Value(v)) }

// WriteOctet writes a string and reports the bytes consumed, which is zero
// for cache parameters.
func (s *Session) WriteOctet(h Handle, v string) (int, error) {
	if err := s.Write(h, OctetValue(v)); err != nil {
		return 0, err
	}
	if h.class == ClassCache {
		return 0, nil
	}
	return len(v), nil
}
