package tools

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFrameSamples(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		rate     int
		channels int
		expected int
	}{
		{
			name:     "Stereo at 48kHz for 120ms",
			duration: 120 * time.Millisecond,
			rate:     48000,
			channels: 2,
			expected: 11520,
		},
		{
			name:     "Mono at 48kHz for 20ms",
			duration: 20 * time.Millisecond,
			rate:     48000,
			channels: 1,
			expected: 960,
		},
		{
			name:     "Zero duration",
			duration: 0,
			rate:     48000,
			channels: 2,
			expected: 0,
		},
		{
			name:     "Zero channels",
			duration: time.Second,
			rate:     48000,
			channels: 0,
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FrameSamples(tt.duration, tt.rate, tt.channels))
		})
	}
}

func TestPCMBytes(t *testing.T) {
	assert.Equal(t, []byte{0x01, 0x00, 0xff, 0xff}, PCMBytes([]int16{1, -1}))
	assert.Empty(t, PCMBytes(nil))
}

func TestAudioBufferDropsOldestPastCapacity(t *testing.T) {
	ab := NewAudioBuffer(4)
	assert.Zero(t, ab.Write([]byte{1, 2, 3, 4}))
	assert.Equal(t, 2, ab.Write([]byte{5, 6}))

	p := make([]byte, 8)
	n, err := ab.Read(p)
	assert.NoError(t, err)
	assert.Equal(t, []byte{3, 4, 5, 6}, p[:n])
}

func TestAudioBufferCloseUnblocksRead(t *testing.T) {
	ab := NewAudioBuffer(16)
	done := make(chan error, 1)
	go func() {
		_, err := ab.Read(make([]byte, 4))
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	ab.Close()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Read did not unblock after Close")
	}
}
