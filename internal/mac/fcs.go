package mac

import "encoding/binary"

// crcTable is the reflected CRC-16 table for the ITU-T polynomial
// x^16 + x^12 + x^5 + 1 (0x8408 reversed), as used by the 802.15.4 FCS.
var crcTable [256]uint16

func init() {
	for i := range crcTable {
		crc := uint16(i)
		for bit := 0; bit < 8; bit++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0x8408
			} else {
				crc >>= 1
			}
		}
		crcTable[i] = crc
	}
}

// CRC16 computes the 802.15.4 frame check sequence over data.
// Initial value zero, no final XOR.
func CRC16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = (crc >> 8) ^ crcTable[byte(crc)^b]
	}
	return crc
}

// FCSStatus is the outcome of the frame-check pass.
type FCSStatus uint8

const (
	FCSUnknown FCSStatus = iota // trailer bytes missing from the capture
	FCSOK
	FCSBad
)

func (s FCSStatus) String() string {
	switch s {
	case FCSOK:
		return "OK"
	case FCSBad:
		return "Bad"
	default:
		return "Unknown"
	}
}

// FCSResult carries the verified trailer. RSSI and Correlation are only
// meaningful in CC24xx mode, where the radio overwrites the FCS with
// link metadata and a CRC-OK bit.
type FCSResult struct {
	Status      FCSStatus `json:"status"`
	Value       uint16    `json:"value"`
	RSSI        int8      `json:"rssi,omitempty"`
	Correlation uint8     `json:"correlation,omitempty"`
}

// verifyFCS checks the 2-byte trailer of frame. reportedLen is the
// on-air length; when the capture is shorter than that the trailer is
// absent and the status is unknown.
func verifyFCS(frame []byte, reportedLen int, cc24xx bool) FCSResult {
	if reportedLen < 2 || len(frame) < reportedLen {
		return FCSResult{Status: FCSUnknown}
	}
	trailer := frame[reportedLen-2 : reportedLen]
	if cc24xx {
		r := FCSResult{
			RSSI:        int8(trailer[0]),
			Correlation: trailer[1] & 0x7F,
		}
		if trailer[1]&0x80 != 0 {
			r.Status = FCSOK
		} else {
			r.Status = FCSBad
		}
		return r
	}
	got := binary.LittleEndian.Uint16(trailer)
	want := CRC16(frame[:reportedLen-2])
	r := FCSResult{Value: got}
	if got == want {
		r.Status = FCSOK
	} else {
		r.Status = FCSBad
	}
	return r
}
