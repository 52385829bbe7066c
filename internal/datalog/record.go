// Package datalog owns the historical sensor log: the fixed 16-byte record
// layout, the storage backends, and the logging/replay cycle.
package datalog

import (
	"encoding/binary"
	"fmt"

	"github.com/sweeney/sentry-node/internal/clock"
)

// RecordSize is the encoded size of a Record: four 32-bit words.
const RecordSize = 16

// Raw is an encoded record as stored and transmitted.
type Raw [RecordSize]byte

// Record is one log entry.
//
// Layout (little-endian words):
//
//	w0 = year<<16 | month<<8 | day
//	w1 = hour<<16 | minute<<8 | second
//	w2 = x<<16 | y<<8 | z
//	w3 = presence
type Record struct {
	Timestamp clock.Timestamp
	Motion    [3]byte
	Presence  byte
}

// Words returns the four packed words of r.
func (r Record) Words() [4]uint32 {
	ts := r.Timestamp
	return [4]uint32{
		uint32(ts.Year)<<16 | uint32(ts.Month)<<8 | uint32(ts.Day),
		uint32(ts.Hours)<<16 | uint32(ts.Minutes)<<8 | uint32(ts.Seconds),
		uint32(r.Motion[0])<<16 | uint32(r.Motion[1])<<8 | uint32(r.Motion[2]),
		uint32(r.Presence),
	}
}

// Encode packs r into its wire form.
func (r Record) Encode() Raw {
	var out Raw
	for i, w := range r.Words() {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

// Decode unpacks a stored record.
func Decode(raw Raw) (Record, error) {
	var w [4]uint32
	for i := range w {
		w[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	r := Record{
		Timestamp: clock.Timestamp{
			Year:    uint16(w[0] >> 16),
			Month:   uint8(w[0] >> 8),
			Day:     uint8(w[0]),
			Hours:   uint8(w[1] >> 16),
			Minutes: uint8(w[1] >> 8),
			Seconds: uint8(w[1]),
		},
		Motion:   [3]byte{byte(w[2] >> 16), byte(w[2] >> 8), byte(w[2])},
		Presence: byte(w[3]),
	}
	if w[1]>>24 != 0 || w[2]>>24 != 0 || w[3] > 0xFF {
		return r, fmt.Errorf("datalog: record has bits outside the packed fields")
	}
	return r, nil
}
