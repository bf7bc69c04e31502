package wire

import (
	"bytes"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

func handle() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.RawToString = true
	return h
}

// Encode msgpack-encodes a Frame, following the teacher's
// pkg/flow.ProtoCodec shape (one Encode/Decode pair per wire message
// type) but against hashicorp/go-msgpack instead of protoc-generated
// code.
func Encode(f *Frame) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, handle())
	if err := enc.Encode(f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode msgpack-decodes a Frame.
func Decode(buf []byte) (*Frame, error) {
	f := &Frame{}
	dec := codec.NewDecoder(bytes.NewReader(buf), handle())
	if err := dec.Decode(f); err != nil {
		return nil, err
	}
	return f, nil
}
