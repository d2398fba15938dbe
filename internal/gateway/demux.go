// Package gateway implements the core of the language-server gateway: the
// session lifecycle, the frame codec, the stream demuxer, the message
// router, and the WebSocket listener.
package gateway

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/stellar-ide/lsp-gateway/internal/logger"
)

// Stream channel tags used by the container engine's multiplex header: one
// byte identifying stdout vs stderr, three reserved bytes, then a 4-byte
// big-endian payload length.
const (
	streamStdout = 1
	streamStderr = 2

	demuxHeaderSize = 8
)

// Demuxer splits a hijacked exec's interleaved stdout/stderr byte stream
// into two logical streams: stdout bytes are handed to onStdout (feeding
// the frame codec's decoder); stderr bytes are handed to onStderr for
// logging only — they are never forwarded to the client.
type Demuxer struct {
	reader   io.Reader
	onStdout func([]byte) error
	onStderr func([]byte)
}

// NewDemuxer constructs a Demuxer reading from r. onStdout is called with
// each decoded stdout chunk in order; onStderr is called with each stderr
// chunk for logging.
func NewDemuxer(r io.Reader, onStdout func([]byte) error, onStderr func([]byte)) *Demuxer {
	return &Demuxer{reader: r, onStdout: onStdout, onStderr: onStderr}
}

// Run consumes the multiplexed stream until EOF or a read error, or until
// onStdout returns an error (propagated to the caller so the session can
// tear down). A zero-length payload in a header is a valid empty chunk: it
// has no payload bytes to consume, so it is skipped without being
// dispatched and the next 8 bytes are read as the following header.
func (d *Demuxer) Run() error {
	header := make([]byte, demuxHeaderSize)
	log := logger.Demux()

	for {
		if _, err := io.ReadFull(d.reader, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return fmt.Errorf("demux header read: %w", err)
		}

		channel := header[0]
		payloadLen := binary.BigEndian.Uint32(header[4:8])

		if payloadLen == 0 {
			continue
		}

		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(d.reader, payload); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return fmt.Errorf("demux payload read (len %d): %w", payloadLen, err)
		}

		switch channel {
		case streamStdout:
			if err := d.onStdout(payload); err != nil {
				return err
			}
		case streamStderr:
			log.Debug().Int("len", len(payload)).Msg("stderr chunk")
			if d.onStderr != nil {
				d.onStderr(payload)
			}
		default:
			log.Warn().Int("channel", int(channel)).Msg("unknown multiplex channel, discarding")
		}
	}
}
