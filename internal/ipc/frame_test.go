package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgdog/internal/action"
)

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
	}{
		{"simple", map[string]any{"action": "ping"}},
		{"empty object", map[string]any{}},
		{"non-ascii text", map[string]any{"action": "send", "payload": map[string]any{"text": "привет мир 🐕"}}},
		{"nested", map[string]any{"action": "export", "payload": map[string]any{"limit": float64(10), "mode": "single"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteFrame(&buf, tt.payload))

			body, err := ReadFrame(&buf)
			require.NoError(t, err)

			var decoded map[string]any
			require.NoError(t, DecodeFrame(body, &decoded))
			assert.Equal(t, tt.payload, decoded)
		})
	}
}

func TestFrameZeroLengthDecodesToEmptyObject(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	buf.Write(header[:])

	body, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Nil(t, body)

	var req action.Request
	require.NoError(t, DecodeFrame(body, &req))
	assert.Equal(t, action.Request{}, req)
}

func TestFrameCleanCloseIsNoResponse(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrNoResponse)
}

func TestFrameTruncatedHeader(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0, 0}))

	var frameErr *FrameError
	require.ErrorAs(t, err, &frameErr)
	assert.Contains(t, err.Error(), "incomplete message")
}

func TestFrameTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], 100)
	buf.Write(header[:])
	buf.WriteString(`{"action":`)

	_, err := ReadFrame(&buf)

	var frameErr *FrameError
	require.ErrorAs(t, err, &frameErr)
	assert.NotErrorIs(t, err, ErrNoResponse)
}

func TestFrameOversizedLengthRejected(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)
	buf.Write(header[:])

	_, err := ReadFrame(&buf)

	var frameErr *FrameError
	assert.True(t, errors.As(err, &frameErr))
}

func TestDecodeFrameMalformedPayload(t *testing.T) {
	var req action.Request
	err := DecodeFrame([]byte("not json"), &req)

	var frameErr *FrameError
	require.ErrorAs(t, err, &frameErr)
}
