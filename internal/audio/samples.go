package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// BytesPerSample is the width of one raw float32 sample.
const BytesPerSample = 4

// SilenceThreshold is the peak amplitude below which a chunk carries no speech.
const SilenceThreshold = 0.01

// DecodeFloat32LE decodes raw little-endian float32 samples. An empty input
// yields an empty, non-nil slice.
func DecodeFloat32LE(raw []byte) ([]float32, error) {
	if len(raw)%BytesPerSample != 0 {
		return nil, fmt.Errorf("audio length %d is not a multiple of %d bytes", len(raw), BytesPerSample)
	}

	samples := make([]float32, len(raw)/BytesPerSample)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(raw[i*BytesPerSample:])
		v := math.Float32frombits(bits)
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("sample %d is not a finite number", i)
		}
		samples[i] = v
	}

	return samples, nil
}

// EncodeFloat32LE is the inverse of DecodeFloat32LE.
func EncodeFloat32LE(samples []float32) []byte {
	raw := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(raw[i*BytesPerSample:], math.Float32bits(s))
	}
	return raw
}

// DecodeBase64 decodes a base64 payload, accepting both padded and unpadded
// standard encodings.
func DecodeBase64(payload string) ([]byte, error) {
	if payload == "" {
		return []byte{}, nil
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err == nil {
		return data, nil
	}

	data, rawErr := base64.RawStdEncoding.DecodeString(payload)
	if rawErr != nil {
		return nil, fmt.Errorf("invalid base64 audio data: %w", err)
	}
	return data, nil
}

// Peak returns the maximum absolute amplitude of samples.
func Peak(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

// IsSilent reports whether samples are empty or stay under SilenceThreshold.
func IsSilent(samples []float32) bool {
	return len(samples) == 0 || Peak(samples) < SilenceThreshold
}

// ToPCM16 converts float samples in [-1, 1] to 16-bit PCM, clipping values
// outside the range.
func ToPCM16(samples []float32) []int16 {
	pcm := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		pcm[i] = int16(s * math.MaxInt16)
	}
	return pcm
}

// Duration returns the length in seconds of n samples at sampleRate.
func Duration(n, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(n) / float64(sampleRate)
}
