// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package keys

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/AleutianAI/patchcache/services/patch/vcs"
)

// ErrCorrupt is returned when encoded data cannot be decoded.
var ErrCorrupt = errors.New("corrupt encoding")

// Encoder appends the cache wire format to a buffer.
//
// Integers are varints, optional ids carry a one-byte presence marker,
// byte strings are length prefixed.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an encoder with room for n bytes.
func NewEncoder(n int) *Encoder {
	return &Encoder{buf: make([]byte, 0, n)}
}

// Data returns the encoded bytes.
func (e *Encoder) Data() []byte { return e.buf }

// Uvarint writes an unsigned varint.
func (e *Encoder) Uvarint(v uint64) { e.buf = binary.AppendUvarint(e.buf, v) }

// Int writes a signed varint.
func (e *Encoder) Int(v int) { e.buf = binary.AppendVarint(e.buf, int64(v)) }

// Byte writes one byte.
func (e *Encoder) Byte(b byte) { e.buf = append(e.buf, b) }

// Bool writes 1 or 0.
func (e *Encoder) Bool(v bool) {
	if v {
		e.Byte(1)
	} else {
		e.Byte(0)
	}
}

// ID writes a 20-byte id.
func (e *Encoder) ID(id vcs.ObjectID) { e.buf = append(e.buf, id[:]...) }

// OptionalID writes a presence marker and, when present, the id.
func (e *Encoder) OptionalID(id vcs.ObjectID) {
	if id.IsZero() {
		e.Byte(0)
		return
	}
	e.Byte(1)
	e.ID(id)
}

// Blob writes a length-prefixed byte string.
func (e *Encoder) Blob(b []byte) {
	e.Uvarint(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

// String writes a length-prefixed string.
func (e *Encoder) String(s string) {
	e.Uvarint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

// Decoder reads the cache wire format. The first error sticks; every later
// read returns a zero value.
type Decoder struct {
	buf []byte
	err error
}

// NewDecoder reads from buf.
func NewDecoder(buf []byte) *Decoder { return &Decoder{buf: buf} }

// Err returns the first decoding error.
func (d *Decoder) Err() error { return d.err }

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.buf) }

// Fail records a truncation error for what, unless an error is already set.
func (d *Decoder) Fail(what string) { d.fail(what) }

func (d *Decoder) fail(what string) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: truncated %s", ErrCorrupt, what)
	}
	d.buf = nil
}

// Uvarint reads an unsigned varint.
func (d *Decoder) Uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.buf)
	if n <= 0 {
		d.fail("uvarint")
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

// Int reads a signed varint.
func (d *Decoder) Int() int {
	if d.err != nil {
		return 0
	}
	v, n := binary.Varint(d.buf)
	if n <= 0 {
		d.fail("varint")
		return 0
	}
	d.buf = d.buf[n:]
	return int(v)
}

// Byte reads one byte.
func (d *Decoder) Byte() byte {
	if d.err != nil {
		return 0
	}
	if len(d.buf) < 1 {
		d.fail("byte")
		return 0
	}
	b := d.buf[0]
	d.buf = d.buf[1:]
	return b
}

// Bool reads a byte written by Encoder.Bool.
func (d *Decoder) Bool() bool { return d.Byte() != 0 }

// ID reads a 20-byte id.
func (d *Decoder) ID() vcs.ObjectID {
	var id vcs.ObjectID
	if d.err != nil {
		return id
	}
	if len(d.buf) < len(id) {
		d.fail("object id")
		return id
	}
	copy(id[:], d.buf)
	d.buf = d.buf[len(id):]
	return id
}

// OptionalID reads an id written by Encoder.OptionalID.
func (d *Decoder) OptionalID() vcs.ObjectID {
	switch d.Byte() {
	case 0:
		return vcs.ZeroID
	case 1:
		return d.ID()
	default:
		if d.err == nil {
			d.err = fmt.Errorf("%w: bad presence marker", ErrCorrupt)
		}
		return vcs.ZeroID
	}
}

// Blob reads a length-prefixed byte string. Empty strings decode as nil.
func (d *Decoder) Blob() []byte {
	n := d.Uvarint()
	if d.err != nil {
		return nil
	}
	if uint64(len(d.buf)) < n {
		d.fail("bytes")
		return nil
	}
	if n == 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, d.buf[:n])
	d.buf = d.buf[n:]
	return out
}

// String reads a length-prefixed string.
func (d *Decoder) String() string { return string(d.Blob()) }
