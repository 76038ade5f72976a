package audio

import (
	"math"
	"strings"
	"testing"
)

func TestEncodeWAV(t *testing.T) {
	// 440Hz sine wave for 0.1 seconds at 16kHz
	sampleRate := 16000
	numSamples := sampleRate / 10
	samples := make([]float32, numSamples)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
	}

	wavData, err := EncodeFloat32WAV(samples, sampleRate)
	if err != nil {
		t.Fatalf("EncodeFloat32WAV failed: %v", err)
	}

	expectedSize := wavHeaderSize + numSamples*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	info, err := GetWAVInfo(wavData)
	if err != nil {
		t.Fatalf("Failed to get WAV info: %v", err)
	}
	if info.SampleRate != uint32(sampleRate) {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, info.SampleRate)
	}
	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}
	if info.BitsPerSample != 16 {
		t.Errorf("Expected 16 bits per sample, got %d", info.BitsPerSample)
	}
	if math.Abs(info.Duration-0.1) > 0.001 {
		t.Errorf("Expected duration 0.100, got %.3f", info.Duration)
	}
}

func TestDecodeWAV(t *testing.T) {
	original := []float32{0.25, -0.5, 0.75, -1, 1}

	wavData, err := EncodeFloat32WAV(original, 8000)
	if err != nil {
		t.Fatalf("EncodeFloat32WAV failed: %v", err)
	}

	decoded, sampleRate, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if sampleRate != 8000 {
		t.Errorf("Expected sample rate 8000, got %d", sampleRate)
	}
	if len(decoded) != len(original) {
		t.Fatalf("Expected %d samples, got %d", len(original), len(decoded))
	}
	for i := range original {
		if math.Abs(float64(decoded[i]-original[i])) > 0.001 {
			t.Errorf("sample %d: expected %.4f, got %.4f", i, original[i], decoded[i])
		}
	}
}

func TestEncodeWAVErrors(t *testing.T) {
	if _, err := EncodeWAV(nil, 16000); err == nil {
		t.Error("expected error for empty samples")
	}
	if _, err := EncodeWAV([]int16{1}, 0); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestDecodeWAVInvalid(t *testing.T) {
	valid, err := EncodeWAV([]int16{1, 2, 3}, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	corrupt := func(offset int, value string) []byte {
		data := append([]byte(nil), valid...)
		copy(data[offset:], value)
		return data
	}

	tests := []struct {
		name     string
		data     []byte
		errorMsg string
	}{
		{"too short", valid[:20], "too short"},
		{"missing RIFF", corrupt(0, "RIFX"), "missing RIFF"},
		{"missing WAVE", corrupt(8, "WAVX"), "missing WAVE"},
		{"missing data", corrupt(36, "junk"), "missing data"},
		{"truncated", valid[:len(valid)-2], "truncated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeWAV(tt.data)
			if err == nil {
				t.Fatal("Expected error but got none")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error to contain %q, got %q", tt.errorMsg, err.Error())
			}
		})
	}
}
