package audio

import (
	"encoding/binary"
	"math"
)

// ClampSample rounds v to the nearest integer and saturates it to the int16 range.
func ClampSample(v float64) int16 {
	r := math.Round(v)
	switch {
	case math.IsNaN(r):
		return 0
	case r >= math.MaxInt16:
		return math.MaxInt16
	case r <= math.MinInt16:
		return math.MinInt16
	}
	return int16(r)
}

// ApplyGain scales every complete sample in buf in place by gain, saturating
// instead of wrapping. A trailing odd byte is left untouched.
func ApplyGain(buf []byte, gain float64) {
	if gain == 1 {
		return
	}
	for i := 0; i+BytesPerSample <= len(buf); i += BytesPerSample {
		s := int16(binary.LittleEndian.Uint16(buf[i:]))
		binary.LittleEndian.PutUint16(buf[i:], uint16(ClampSample(float64(s)*gain)))
	}
}
