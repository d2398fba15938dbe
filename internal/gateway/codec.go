package gateway

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/stellar-ide/lsp-gateway/internal/logger"
)

// Codec bridges LSP stdio framing (Content-Length-prefixed byte frames, read
// from the demuxed stdout stream) and whole JSON messages as carried on the
// WebSocket.
type Codec struct {
	reader *bufio.Reader
}

// NewCodec wraps r (the demuxed stdout stream) for decoding.
func NewCodec(r io.Reader) *Codec {
	return &Codec{reader: bufio.NewReader(r)}
}

// DecodeNext reads one LSP frame and returns its JSON payload. Malformed
// frames (missing or non-numeric Content-Length) are reported as an error
// but the codec remains usable for the next call — callers should log and
// continue rather than close the stream. A body cut short by the end of the
// stream is returned as io.ErrUnexpectedEOF, and a true io.EOF signals the
// underlying stream ended.
func (c *Codec) DecodeNext() ([]byte, error) {
	contentLength := -1
	var headerErr error

	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if after, found := strings.CutPrefix(line, "Content-Length:"); found {
			n, convErr := strconv.Atoi(strings.TrimSpace(after))
			if convErr != nil {
				if headerErr == nil {
					headerErr = fmt.Errorf("%w: invalid Content-Length %q", errFrame, after)
				}
				continue
			}
			contentLength = n
		}
	}

	if headerErr != nil {
		return nil, headerErr
	}

	if contentLength < 0 {
		return nil, fmt.Errorf("%w: missing Content-Length header", errFrame)
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, err
		}
		return nil, fmt.Errorf("%w: reading %d-byte body: %v", errFrame, contentLength, err)
	}

	return body, nil
}

// errFrame marks errors from DecodeNext that are recoverable: the offending
// bytes have already been consumed up to the next plausible header
// boundary, so the caller should log and keep reading.
var errFrame = fmt.Errorf("malformed LSP frame")

// IsFrameError reports whether err originated from a malformed frame (as
// opposed to an I/O failure on the underlying stream).
func IsFrameError(err error) bool {
	return err != nil && strings.Contains(err.Error(), errFrame.Error())
}

// Encode serializes a JSON payload with an LSP Content-Length header and
// writes it to w as a single call, so concurrent writers never interleave a
// header from one message with the body of another.
func Encode(w io.Writer, payload []byte) error {
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(payload))
	buf := make([]byte, 0, len(header)+len(payload))
	buf = append(buf, header...)
	buf = append(buf, payload...)

	n, err := w.Write(buf)
	if err != nil {
		return fmt.Errorf("write LSP frame: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("short write of LSP frame: wrote %d of %d bytes", n, len(buf))
	}
	return nil
}

// RunDecoder reads frames from c until the stream ends or a non-frame I/O
// error occurs, dispatching each successfully decoded payload to onMessage.
// Malformed frames are logged and skipped, not fatal.
func RunDecoder(c *Codec, onMessage func([]byte) error) error {
	log := logger.Codec()

	for {
		payload, err := c.DecodeNext()
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			if IsFrameError(err) {
				log.Warn().Err(err).Msg("malformed LSP frame, skipping")
				continue
			}
			return err
		}

		if err := onMessage(payload); err != nil {
			return err
		}
	}
}
