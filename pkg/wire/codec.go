package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxLineBytes is the hard maximum size of a single wire line, enforced on
// both encode and decode.
const MaxLineBytes = 32768

// ErrFrameTooLarge is returned by Encode when a message would not fit in a
// single line, and by LineReader.ReadLine when a received line exceeds
// MaxLineBytes.
var ErrFrameTooLarge = errors.New("wire: frame exceeds max line size")

// Encode serializes m as a single newline-terminated JSON line.
func Encode(m *Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}
	if len(b) > MaxLineBytes {
		return nil, ErrFrameTooLarge
	}
	return append(b, '\n'), nil
}

// Decode parses a single line (without its trailing newline) into a
// Message. Unknown fields are ignored by encoding/json. The legacy
// peer_id alias is applied for HELLO/HELLO_OK.
func Decode(line []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return nil, fmt.Errorf("wire: decode: %w", err)
	}
	if (m.Type == TypeHello || m.Type == TypeHelloOk) && m.Src == "" && m.PeerID != "" {
		m.Src = m.PeerID
	}
	return &m, nil
}

// LineReader reads newline-delimited wire frames off an underlying
// io.Reader, enforcing MaxLineBytes without closing the stream on
// oversize input: an oversize line is discarded in full and
// ErrFrameTooLarge is returned so the caller can log and keep reading.
type LineReader struct {
	br *bufio.Reader
}

// NewLineReader wraps r for line-oriented reads. The internal buffer is
// sized to MaxLineBytes; ReadSlice reports bufio.ErrBufferFull once a line
// grows past it, which ReadLine turns into a discard-and-continue.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{br: bufio.NewReaderSize(r, MaxLineBytes)}
}

// ReadLine returns the next newline-terminated line, trailing newline
// stripped. On an oversize line it discards the entire line (up to and
// including the next '\n') and returns ErrFrameTooLarge; the underlying
// connection stays usable for the next call. Any other error (EOF, socket
// error) is returned as-is and the reader should not be used again.
func (lr *LineReader) ReadLine() ([]byte, error) {
	var buf []byte
	oversize := false
	for {
		frag, err := lr.br.ReadSlice('\n')
		if err == nil {
			if oversize || len(buf)+len(frag)-1 > MaxLineBytes {
				return nil, ErrFrameTooLarge
			}
			buf = append(buf, frag...)
			return bytes.TrimSuffix(buf, []byte("\n")), nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			if !oversize {
				if len(buf)+len(frag) > MaxLineBytes {
					oversize = true
				} else {
					buf = append(buf, frag...)
				}
			}
			continue
		}
		// EOF or socket error: nothing usable buffered for this frame.
		return nil, err
	}
}
