// Package mseedtest builds synthetic miniSEED 2 records for tests.
package mseedtest

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// RecordLen is the length of every record Record builds.
const RecordLen = 512

// Record returns one big-endian 512-byte record for id (NET.STA.LOC.CHA)
// starting at start with n samples at rate Hz. rate must be a whole number.
func Record(id string, start time.Time, n int, rate int) []byte {
	parts := strings.Split(id, ".")
	if len(parts) != 4 {
		panic(fmt.Sprintf("mseedtest: bad id %q", id))
	}
	b := make([]byte, RecordLen)
	copy(b[0:6], "000001")
	b[6] = 'D'
	b[7] = ' '
	copy(b[8:13], pad(parts[1], 5))
	copy(b[13:15], pad(parts[2], 2))
	copy(b[15:18], pad(parts[3], 3))
	copy(b[18:20], pad(parts[0], 2))

	start = start.UTC()
	be := binary.BigEndian
	be.PutUint16(b[20:22], uint16(start.Year()))
	be.PutUint16(b[22:24], uint16(start.YearDay()))
	b[24] = byte(start.Hour())
	b[25] = byte(start.Minute())
	b[26] = byte(start.Second())
	be.PutUint16(b[28:30], uint16(start.Nanosecond()/100000))
	be.PutUint16(b[30:32], uint16(n))
	be.PutUint16(b[32:34], uint16(rate))
	be.PutUint16(b[34:36], 1)
	b[39] = 1 // one blockette
	be.PutUint16(b[44:46], 64)
	be.PutUint16(b[46:48], 48)

	// Blockette 1000: Steim-1, big-endian, 2^9 bytes.
	be.PutUint16(b[48:50], 1000)
	be.PutUint16(b[50:52], 0)
	b[52] = 10
	b[53] = 1
	b[54] = 9
	return b
}

// Series returns count back-to-back records for id, each holding n samples
// at rate Hz, starting at start.
func Series(id string, start time.Time, count, n, rate int) []byte {
	var out []byte
	step := time.Duration(float64(n) / float64(rate) * float64(time.Second))
	for i := 0; i < count; i++ {
		out = append(out, Record(id, start.Add(time.Duration(i)*step), n, rate)...)
	}
	return out
}

func pad(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	return s + strings.Repeat(" ", n-len(s))
}
