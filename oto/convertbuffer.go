package oto

import (
	"encoding/binary"
	"math"
)

// FloatBufferToLE appends the samples of buff to dst as 32-bit little-endian
// floats and returns the extended slice. Passing dst[:0] reuses its
// capacity.
func FloatBufferToLE(dst []byte, buff []float32) []byte {
	for _, v := range buff {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	return dst
}
