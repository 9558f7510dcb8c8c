// internal/protocol/framing.go
package protocol

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// frameReader splits a byte stream into SCPI response frames: either a
// newline terminated line or an IEEE 488.2 definite length block
// "#N<len><data>" followed by an optional newline.
type frameReader struct {
	r *bufio.Reader
	// skipNewline is set when a block was read without its trailing newline
	skipNewline bool
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// reset drops buffered bytes, used after an aborted read
func (fr *frameReader) reset(r io.Reader) {
	fr.r.Reset(r)
	fr.skipNewline = false
}

// readFrame returns one frame. Lines are returned without the terminator;
// blocks are returned whole, header included.
func (fr *frameReader) readFrame(maxBytes int) ([]byte, error) {
	first, err := fr.r.ReadByte()
	if err != nil {
		return nil, err
	}

	if fr.skipNewline {
		fr.skipNewline = false
		if first == '\n' {
			if first, err = fr.r.ReadByte(); err != nil {
				return nil, err
			}
		}
	}

	if first != '#' {
		return fr.readLine(first, maxBytes)
	}
	return fr.readBlock(maxBytes)
}

func (fr *frameReader) readLine(first byte, maxBytes int) ([]byte, error) {
	if first == '\n' {
		return []byte{}, nil
	}

	line := []byte{first}
	for {
		chunk, err := fr.r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > maxBytes {
			return nil, fmt.Errorf("%w: line longer than %d bytes", ErrFrameTooLarge, maxBytes)
		}
		if err == nil {
			break
		}
		if err != bufio.ErrBufferFull {
			return nil, err
		}
	}

	return bytes.TrimRight(line, "\r\n"), nil
}

func (fr *frameReader) readBlock(maxBytes int) ([]byte, error) {
	digitByte, err := fr.r.ReadByte()
	if err != nil {
		return nil, err
	}
	if digitByte < '0' || digitByte > '9' {
		return nil, fmt.Errorf("invalid block header digit %q", digitByte)
	}

	// "#0" is an indefinite length block terminated by newline
	if digitByte == '0' {
		rest, err := fr.readLine('0', maxBytes)
		if err != nil {
			return nil, err
		}
		return append([]byte{'#'}, rest...), nil
	}

	nDigits := int(digitByte - '0')
	lenDigits := make([]byte, nDigits)
	if _, err := io.ReadFull(fr.r, lenDigits); err != nil {
		return nil, err
	}

	length, err := strconv.Atoi(string(lenDigits))
	if err != nil || length < 0 {
		return nil, fmt.Errorf("invalid block length %q", lenDigits)
	}

	total := 2 + nDigits + length
	if total > maxBytes {
		return nil, fmt.Errorf("%w: block of %d bytes, limit %d", ErrFrameTooLarge, total, maxBytes)
	}

	frame := make([]byte, total)
	frame[0] = '#'
	frame[1] = digitByte
	copy(frame[2:], lenDigits)
	if _, err := io.ReadFull(fr.r, frame[2+nDigits:]); err != nil {
		return nil, err
	}

	// consume the terminator when it already arrived, otherwise skip it
	// at the start of the next frame
	if fr.r.Buffered() > 0 {
		if next, _ := fr.r.Peek(1); len(next) == 1 && next[0] == '\n' {
			fr.r.ReadByte()
		}
	} else {
		fr.skipNewline = true
	}

	return frame, nil
}
