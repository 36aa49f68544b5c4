package flow

import (
	"encoding/json"
	"fmt"
	"io"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtoCodec frames protobuf messages with a [BytesCodec].
type ProtoCodec[Msg proto.Message] struct {
	inner BytesCodec
}

func NewProtoCodec[Msg proto.Message](localCopy bool) ProtoCodec[Msg] {
	return ProtoCodec[Msg]{
		inner: BytesCodec{
			copyBuffers: localCopy,
		},
	}
}

func (enc ProtoCodec[Msg]) Encode(w io.Writer, msg interface{}) error {
	message, ok := msg.(Msg)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnexpectedType, msg)
	}

	buf, err := proto.Marshal(message)
	if err != nil {
		return err
	}

	return enc.inner.Encode(w, buf)
}

func (enc ProtoCodec[Msg]) ProcessLocal(msg interface{}) (interface{}, error) {
	if !enc.inner.copyBuffers {
		return msg, nil
	}

	message, ok := msg.(Msg)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedType, msg)
	}

	return proto.Clone(message), nil
}

func (enc ProtoCodec[Msg]) Decode(r io.Reader) (interface{}, error) {
	buf, err := enc.inner.Decode(r)
	if err != nil {
		return nil, err
	}

	var allocated Msg
	allocated = allocated.ProtoReflect().New().Interface().(Msg)
	err = proto.Unmarshal(buf.([]byte), allocated)
	return allocated, err
}

// StructCodec carries any JSON-representable Msg as a protobuf
// google.protobuf.Struct. It implements both [Encoder] and [Decoder].
type StructCodec[Msg any] struct {
	inner ProtoCodec[*structpb.Struct]
}

func NewStructCodec[Msg any](localCopy bool) StructCodec[Msg] {
	return StructCodec[Msg]{
		inner: NewProtoCodec[*structpb.Struct](localCopy),
	}
}

func (c StructCodec[Msg]) Encode(w io.Writer, msg interface{}) error {
	// structpb only knows about JSON-like maps, go through JSON to get one.
	buf, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(buf, &fields); err != nil {
		return fmt.Errorf("%w: %T is not a JSON object", ErrUnexpectedType, msg)
	}

	payload, err := structpb.NewStruct(fields)
	if err != nil {
		return err
	}
	return c.inner.Encode(w, payload)
}

func (c StructCodec[Msg]) ProcessLocal(msg interface{}) (interface{}, error) {
	if !c.inner.inner.copyBuffers {
		return msg, nil
	}
	if clonable, ok := msg.(Clonable); ok {
		return clonable.Clone(), nil
	}
	return msg, nil
}

func (c StructCodec[Msg]) Decode(r io.Reader) (interface{}, error) {
	payload, err := c.inner.Decode(r)
	if err != nil {
		return nil, err
	}

	buf, err := json.Marshal(payload.(*structpb.Struct).AsMap())
	if err != nil {
		return nil, err
	}
	return unmarshalJSON[Msg](buf)
}
