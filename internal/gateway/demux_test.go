package gateway

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(channel byte, payload []byte) []byte {
	header := make([]byte, demuxHeaderSize)
	header[0] = channel
	binary.BigEndian.PutUint32(header[4:8], uint32(len(payload)))
	return append(header, payload...)
}

func TestDemuxerSplitsStdoutAndStderr(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(frame(streamStdout, []byte("hello")))
	stream.Write(frame(streamStderr, []byte("warn: x")))
	stream.Write(frame(streamStdout, []byte("world")))

	var stdout [][]byte
	var stderr [][]byte

	d := NewDemuxer(&stream,
		func(b []byte) error {
			cp := append([]byte(nil), b...)
			stdout = append(stdout, cp)
			return nil
		},
		func(b []byte) {
			cp := append([]byte(nil), b...)
			stderr = append(stderr, cp)
		},
	)

	require.NoError(t, d.Run())
	require.Len(t, stdout, 2)
	assert.Equal(t, "hello", string(stdout[0]))
	assert.Equal(t, "world", string(stdout[1]))
	require.Len(t, stderr, 1)
	assert.Equal(t, "warn: x", string(stderr[0]))
}

func TestDemuxerZeroLengthChunkDoesNotDesync(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(frame(streamStdout, nil))
	stream.Write(frame(streamStdout, []byte("after-empty")))

	var stdout [][]byte
	d := NewDemuxer(&stream, func(b []byte) error {
		cp := append([]byte(nil), b...)
		stdout = append(stdout, cp)
		return nil
	}, nil)

	require.NoError(t, d.Run())
	require.Len(t, stdout, 1)
	assert.Equal(t, "after-empty", string(stdout[0]))
}

func TestDemuxerUnknownChannelDiscarded(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(frame(9, []byte("ignored")))
	stream.Write(frame(streamStdout, []byte("ok")))

	var stdout [][]byte
	d := NewDemuxer(&stream, func(b []byte) error {
		stdout = append(stdout, b)
		return nil
	}, nil)

	require.NoError(t, d.Run())
	require.Len(t, stdout, 1)
	assert.Equal(t, "ok", string(stdout[0]))
}

func TestDemuxerStdoutErrorPropagates(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(frame(streamStdout, []byte("x")))

	boom := assert.AnError
	d := NewDemuxer(&stream, func(b []byte) error {
		return boom
	}, nil)

	err := d.Run()
	assert.ErrorIs(t, err, boom)
}
