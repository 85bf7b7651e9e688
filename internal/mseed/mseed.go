// Package mseed reads miniSEED 2 fixed data headers: enough to learn which
// stream a record belongs to, where it starts and how long it is, without
// decoding samples.
package mseed

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/runnerr0/seedvault/internal/failure"
)

const (
	fixedHeaderLen = 48
	minRecordLen   = 128
	maxRecordLen   = 1 << 20
)

// Record is one parsed miniSEED record header.
type Record struct {
	Network    string
	Station    string
	Location   string
	Channel    string
	Quality    byte
	Start      time.Time
	NumSamples int
	SampleRate float64
	// Offset and Length locate the record inside the parsed buffer.
	Offset int
	Length int
}

// ID returns the record's NET.STA.LOC.CHA identifier.
func (r Record) ID() string {
	return r.Network + "." + r.Station + "." + r.Location + "." + r.Channel
}

// End returns the time one sample period after the last sample, so that
// back-to-back records share a boundary.
func (r Record) End() time.Time {
	if r.SampleRate <= 0 || r.NumSamples == 0 {
		return r.Start
	}
	return r.Start.Add(time.Duration(float64(r.NumSamples) / r.SampleRate * float64(time.Second)))
}

func parseErr(format string, args ...interface{}) error {
	return failure.Mark(errors.NewWithDepthf(1, format, args...), failure.Parse)
}

// Parse walks every record in data. Any malformed header fails the whole
// buffer with a failure.Parse error.
func Parse(data []byte) ([]Record, error) {
	var out []Record
	for off := 0; off < len(data); {
		rec, err := parseRecord(data, off)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
		off += rec.Length
	}
	return out, nil
}

func parseRecord(data []byte, off int) (Record, error) {
	if len(data)-off < fixedHeaderLen {
		return Record{}, parseErr("truncated header at offset %d", off)
	}
	h := data[off:]
	if !isHeader(h) {
		return Record{}, parseErr("no miniSEED header at offset %d", off)
	}

	order := byteOrder(h)
	rec := Record{
		Station:  trim(h[8:13]),
		Location: trim(h[13:15]),
		Channel:  trim(h[15:18]),
		Network:  trim(h[18:20]),
		Quality:  h[6],
		Offset:   off,
	}
	if rec.Station == "" || rec.Channel == "" {
		return Record{}, parseErr("record at offset %d has empty station or channel", off)
	}

	start, err := btime(h[20:30], order)
	if err != nil {
		return Record{}, errors.Wrapf(err, "record at offset %d", off)
	}
	rec.NumSamples = int(order.Uint16(h[30:32]))
	rec.SampleRate = sampleRate(int16(order.Uint16(h[32:34])), int16(order.Uint16(h[34:36])))

	activity := h[36]
	if correction := int32(order.Uint32(h[40:44])); correction != 0 && activity&0x02 == 0 {
		start = start.Add(time.Duration(correction) * 100 * time.Microsecond)
	}
	rec.Start = start

	length, rate, err := blockettes(h, order, int(h[39]), int(order.Uint16(h[46:48])))
	if err != nil {
		return Record{}, errors.Wrapf(err, "record at offset %d", off)
	}
	if rate > 0 {
		rec.SampleRate = rate
	}
	if length == 0 {
		length = guessLength(data, off)
	}
	if length < fixedHeaderLen || off+length > len(data) {
		return Record{}, parseErr("record at offset %d: length %d overruns buffer of %d", off, length, len(data))
	}
	rec.Length = length
	return rec, nil
}

// isHeader checks the sequence number and quality indicator.
func isHeader(h []byte) bool {
	for _, c := range h[0:6] {
		if (c < '0' || c > '9') && c != ' ' && c != 0 {
			return false
		}
	}
	switch h[6] {
	case 'D', 'R', 'Q', 'M':
	default:
		return false
	}
	return h[7] == ' ' || h[7] == 0
}

// byteOrder picks the order that yields a plausible BTIME year.
func byteOrder(h []byte) binary.ByteOrder {
	year := binary.BigEndian.Uint16(h[20:22])
	if year >= 1900 && year <= 2100 {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func btime(b []byte, order binary.ByteOrder) (time.Time, error) {
	year := int(order.Uint16(b[0:2]))
	doy := int(order.Uint16(b[2:4]))
	hour, minute, sec := int(b[4]), int(b[5]), int(b[6])
	frac := int(order.Uint16(b[8:10]))
	if year < 1900 || year > 2100 || doy < 1 || doy > 366 || hour > 23 || minute > 59 || sec > 60 || frac > 9999 {
		return time.Time{}, parseErr("invalid start time %d,%d %02d:%02d:%02d.%04d", year, doy, hour, minute, sec, frac)
	}
	t := time.Date(year, time.January, 1, hour, minute, sec, frac*100000, time.UTC)
	return t.AddDate(0, 0, doy-1), nil
}

func sampleRate(factor, mult int16) float64 {
	f, m := float64(factor), float64(mult)
	switch {
	case factor == 0 || mult == 0:
		return 0
	case factor > 0 && mult > 0:
		return f * m
	case factor > 0 && mult < 0:
		return -f / m
	case factor < 0 && mult > 0:
		return -m / f
	default:
		return 1 / (f * m)
	}
}

// blockettes scans the blockette chain for the record length (1000) and the
// actual sample rate (100).
func blockettes(h []byte, order binary.ByteOrder, count, next int) (length int, rate float64, err error) {
	for i := 0; i < count && next != 0; i++ {
		if next < fixedHeaderLen || next+4 > len(h) {
			return 0, 0, parseErr("blockette offset %d out of range", next)
		}
		typ := order.Uint16(h[next : next+2])
		following := int(order.Uint16(h[next+2 : next+4]))
		switch typ {
		case 1000:
			if next+8 > len(h) {
				return 0, 0, parseErr("truncated blockette 1000")
			}
			exp := h[next+6]
			if exp < 7 || exp > 20 {
				return 0, 0, parseErr("record length exponent %d out of range", exp)
			}
			length = 1 << exp
		case 100:
			if next+8 > len(h) {
				return 0, 0, parseErr("truncated blockette 100")
			}
			r := float64(math.Float32frombits(order.Uint32(h[next+4 : next+8])))
			if r > 0 && !math.IsInf(r, 0) && !math.IsNaN(r) {
				rate = r
			}
		}
		if following != 0 && following <= next {
			return 0, 0, parseErr("blockette chain loops at offset %d", next)
		}
		next = following
	}
	return length, rate, nil
}

// guessLength finds the record length of a header without blockette 1000
// by probing for the next header at power-of-two offsets.
func guessLength(data []byte, off int) int {
	rest := len(data) - off
	for l := minRecordLen; l <= maxRecordLen && l < rest; l <<= 1 {
		if rest-l >= fixedHeaderLen && isHeader(data[off+l:]) {
			return l
		}
	}
	return rest
}

func trim(b []byte) string {
	return strings.TrimSpace(string(bytes.TrimRight(b, "\x00")))
}
