package station

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/kjstillabower/wx-station-poller/internal/models"
)

// LOOP2 framing constants (Vantage serial protocol, LPS command).
const (
	PacketSize = 99
	ACK        = 0x06

	loop2Subtype = 1

	offsetSubtype          = 4
	offsetOutsideTemp      = 12 // int16, tenths of a degree F
	offsetWindSpeed        = 14 // int8, mph
	offsetWindDirection    = 16 // int16, degrees
	offsetGustSpeed10Min   = 22 // int16, mph
	offsetGustDirection10m = 24 // int16, degrees
	offsetOutsideHumidity  = 33 // int8, percent
)

// DecodeLoop2 decodes one LOOP2 packet. buf must be exactly PacketSize bytes
// with "LOO" at offset 0 and subtype 1 at offset 4; nothing is decoded otherwise.
// The reading is stamped with now truncated to the second.
func DecodeLoop2(buf []byte, now time.Time) (models.Reading, error) {
	if len(buf) != PacketSize {
		return models.Reading{}, fmt.Errorf("%w: bad packet length %d", ErrProtocol, len(buf))
	}
	if buf[0] != 'L' || buf[1] != 'O' || buf[2] != 'O' || buf[offsetSubtype] != loop2Subtype {
		return models.Reading{}, fmt.Errorf("%w: bad packet header", ErrProtocol)
	}

	return models.Reading{
		Timestamp:                now.UTC().Truncate(time.Second),
		OutsideTemperature:       models.FormatTenths(int16At(buf, offsetOutsideTemp)),
		WindSpeedMph:             int(int8(buf[offsetWindSpeed])),
		WindDirectionDegrees:     int(int16At(buf, offsetWindDirection)),
		WindGustSpeedMph:         int(int16At(buf, offsetGustSpeed10Min)),
		WindGustDirectionDegrees: int(int16At(buf, offsetGustDirection10m)),
		OutsideHumidity:          int(int8(buf[offsetOutsideHumidity])),
	}, nil
}

func int16At(buf []byte, off int) int16 {
	return int16(binary.LittleEndian.Uint16(buf[off : off+2]))
}
