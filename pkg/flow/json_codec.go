package flow

import (
	"encoding/json"
	"io"
	"reflect"
)

// JsonEncoder frames JSON documents with a [BytesCodec].
//
// Over a local flow, messages implementing [Clonable] are deep-copied when
// localCopy is set, other messages are passed as is.
type JsonEncoder struct {
	inner BytesCodec
}

func NewJsonEncoder(localCopy bool) JsonEncoder {
	return JsonEncoder{
		inner: BytesCodec{
			copyBuffers: localCopy,
		},
	}
}

func (enc JsonEncoder) Encode(w io.Writer, msg interface{}) error {
	buf, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return enc.inner.Encode(w, buf)
}

func (enc JsonEncoder) ProcessLocal(msg interface{}) (interface{}, error) {
	if !enc.inner.copyBuffers {
		return msg, nil
	}

	if clonable, ok := msg.(Clonable); ok {
		return clonable.Clone(), nil
	}
	return msg, nil
}

// JsonDecoder decodes frames produced by a [JsonEncoder] into Msg. Msg may
// be a pointer type, in which case a fresh value is allocated per frame.
type JsonDecoder[Msg any] struct {
	inner BytesCodec
}

func NewJsonDecoder[Msg any]() JsonDecoder[Msg] {
	return JsonDecoder[Msg]{
		inner: BytesCodec{},
	}
}

func (dec JsonDecoder[Msg]) Decode(r io.Reader) (interface{}, error) {
	buf, err := dec.inner.Decode(r)
	if err != nil {
		return nil, err
	}

	return unmarshalJSON[Msg](buf.([]byte))
}

func unmarshalJSON[Msg any](buf []byte) (Msg, error) {
	var result Msg
	t := reflect.TypeFor[Msg]()
	if t.Kind() == reflect.Ptr {
		result = reflect.New(t.Elem()).Interface().(Msg)
		err := json.Unmarshal(buf, result)
		return result, err
	}
	err := json.Unmarshal(buf, &result)
	return result, err
}
