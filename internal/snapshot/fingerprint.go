package snapshot

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cespare/xxhash/v2"
	readingdomain "github.com/smallbiznis/kwhtracker/internal/reading/domain"
)

// Fingerprint hashes every input a derived snapshot depends on: the user, the timezone,
// each reading's identity, timestamp, value and top-up flag, and any extra salt such as
// the local date of "today". Readings are hashed in the order given, which is storage order.
func Fingerprint(userID snowflake.ID, loc *time.Location, readings []readingdomain.Reading, salt ...string) uint64 {
	h := xxhash.New()
	var buf [8]byte

	writeUint := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}

	writeUint(uint64(userID))
	if loc != nil {
		_, _ = h.WriteString(loc.String())
	}
	writeUint(uint64(len(readings)))
	for _, reading := range readings {
		writeUint(uint64(reading.ID))
		writeUint(uint64(reading.RecordedAt.UnixNano()))
		writeUint(math.Float64bits(reading.KwhValue))
		if reading.IsTopUp {
			_, _ = h.Write([]byte{1})
		} else {
			_, _ = h.Write([]byte{0})
		}
	}
	for _, s := range salt {
		_, _ = h.WriteString(s)
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}
