package callkit

import (
	"errors"
	"io"
	"testing"

	"github.com/bazaarlane/callkit/shared"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticEncodedReader struct {
	buffers []mediadevices.EncodedBuffer
}

func (r *staticEncodedReader) Read() (mediadevices.EncodedBuffer, func(), error) {
	if len(r.buffers) == 0 {
		return mediadevices.EncodedBuffer{}, func() {}, io.EOF
	}
	buf := r.buffers[0]
	r.buffers = r.buffers[1:]
	return buf, func() {}, nil
}

func (r *staticEncodedReader) Close() error { return nil }

func (r *staticEncodedReader) Controller() codec.EncoderController { return nil }

func TestEncodedFrameReader(t *testing.T) {
	reader := &encodedFrameReader{reader: &staticEncodedReader{
		buffers: []mediadevices.EncodedBuffer{
			{Data: []byte{0xde, 0xad}, Samples: 960},
		},
	}}

	data, samples, release, err := reader.Read()
	require.NoError(t, err)
	require.NotNil(t, release)
	release()
	assert.Equal(t, []byte{0xde, 0xad}, data)
	assert.Equal(t, 960, samples)

	_, _, _, err = reader.Read()
	assert.ErrorIs(t, err, io.EOF)
}

func TestClassifyCaptureError(t *testing.T) {
	assert.ErrorIs(t, classifyCaptureError(errors.New("Permission denied by user")), shared.ErrPermissionDenied)
	assert.ErrorIs(t, classifyCaptureError(errors.New("access not allowed")), shared.ErrPermissionDenied)
	assert.ErrorIs(t, classifyCaptureError(errors.New("no default input device")), shared.ErrDeviceUnavailable)
}

func TestNewMicrophoneSourceGuards(t *testing.T) {
	_, err := NewMicrophoneSource(nil)
	assert.ErrorIs(t, err, shared.ErrNoLogger)
}
