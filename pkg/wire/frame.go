// Package wire implements Partisan's byte-level framing and message
// codec: a 4-byte big-endian length prefix followed by an opaque,
// optionally compressed body (§6).
package wire

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame body to guard against a
// corrupted or hostile length prefix forcing an unbounded allocation.
const MaxFrameSize = 64 << 20 // 64MiB

var ErrFrameTooLarge = errors.New("wire: frame exceeds MaxFrameSize")

// ReadFrame reads one length-prefixed frame from r. It returns the raw
// (still possibly compressed) body.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// WriteFrame writes one length-prefixed frame to w.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// Compress deflates buf at the given level. A level of -1
// (CompressionDisabled) is a no-op; any level in [0,9] is passed to
// compress/flate.
func Compress(buf []byte, level int) ([]byte, error) {
	if level < 0 {
		return buf, nil
	}
	var out bytes.Buffer
	fw, err := flate.NewWriter(&out, level)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(buf); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Decompress inflates buf. compressed must match whether Compress was
// applied on the sending side; the frame carries no such flag, so both
// sides derive it from the channel's configured compression level.
func Decompress(buf []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return buf, nil
	}
	fr := flate.NewReader(bytes.NewReader(buf))
	defer fr.Close()
	return io.ReadAll(fr)
}
