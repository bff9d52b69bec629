package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// SampleRate is the rate of both captured and played audio
	SampleRate = 24000
	// ChunkSamples is the number of samples in one captured frame
	ChunkSamples = 2048
)

// FloatToPCM16 clips samples to [-1, 1] and scales them to little-endian
// signed 16-bit PCM. Positive samples scale by 32767, negative by 32768.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

func floatToInt16(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	if v < 0 {
		return int16(math.Round(v * 32768))
	}
	return int16(math.Round(v * 32767))
}

// PCM16ToFloat reinterprets little-endian signed 16-bit PCM as normalized
// float samples, inverting the scaling of FloatToPCM16
func PCM16ToFloat(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm16 buffer has odd length %d", len(pcm))
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		if v < 0 {
			out[i] = float32(v) / 32768
		} else {
			out[i] = float32(v) / 32767
		}
	}
	return out, nil
}

// EncodeChunk converts float samples to base64 PCM16
func EncodeChunk(samples []float32) string {
	return base64.StdEncoding.EncodeToString(FloatToPCM16(samples))
}

// DecodeChunk converts base64 PCM16 to float samples
func DecodeChunk(b64 string) ([]float32, error) {
	pcm, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 audio: %w", err)
	}
	return PCM16ToFloat(pcm)
}

// Framer slices a continuous sample stream into fixed-size chunks. A
// trailing partial chunk is held until more samples arrive.
type Framer struct {
	size int
	buf  []float32
}

// NewFramer creates a framer emitting chunks of size samples
func NewFramer(size int) *Framer {
	if size <= 0 {
		size = ChunkSamples
	}
	return &Framer{size: size, buf: make([]float32, 0, size)}
}

// Write appends samples and calls emit once per complete chunk. The slice
// passed to emit is only valid for the duration of the call.
func (f *Framer) Write(samples []float32, emit func([]float32)) {
	for len(samples) > 0 {
		n := f.size - len(f.buf)
		if n > len(samples) {
			n = len(samples)
		}
		f.buf = append(f.buf, samples[:n]...)
		samples = samples[n:]
		if len(f.buf) == f.size {
			emit(f.buf)
			f.buf = f.buf[:0]
		}
	}
}

// Pending returns the number of buffered samples not yet emitted
func (f *Framer) Pending() int {
	return len(f.buf)
}

// Reset drops any partial chunk
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}
