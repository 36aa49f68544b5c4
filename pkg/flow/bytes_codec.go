package flow

import (
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// DefaultMaxFrameSize bounds the frames a [BytesCodec] accepts.
const DefaultMaxFrameSize = 16 << 20

// BytesCodec is a simple framing codec using varint length-prefixed frames
// to exchange []byte over a flow.
type BytesCodec struct {
	copyBuffers  bool
	maxFrameSize uint64
}

func NewBytesCodec(localCopy bool) BytesCodec {
	return BytesCodec{
		copyBuffers: localCopy,
	}
}

// WithMaxFrameSize returns a copy of the codec rejecting frames bigger than
// size bytes.
func (enc BytesCodec) WithMaxFrameSize(size uint64) BytesCodec {
	enc.maxFrameSize = size
	return enc
}

func (enc BytesCodec) Encode(w io.Writer, msg interface{}) error {
	buf, ok := msg.([]byte)
	if !ok {
		return fmt.Errorf("%w: %T instead of []byte", ErrUnexpectedType, msg)
	}
	if uint64(len(buf)) > enc.limit() {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(buf))
	}

	prefixed := protowire.AppendVarint(make([]byte, 0, binary.MaxVarintLen64+len(buf)), uint64(len(buf)))
	prefixed = append(prefixed, buf...)
	// a single write keeps frames contiguous on streams shared by nobody else.
	_, err := w.Write(prefixed)
	return err
}

func (enc BytesCodec) ProcessLocal(msg interface{}) (interface{}, error) {
	if !enc.copyBuffers {
		return msg, nil
	}

	buf, ok := msg.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: %T instead of []byte", ErrUnexpectedType, msg)
	}

	cloned := make([]byte, len(buf))
	copy(cloned, buf)
	return cloned, nil
}

func (enc BytesCodec) Decode(r io.Reader) (interface{}, error) {
	prefix := make([]byte, 0, binary.MaxVarintLen64)
	one := make([]byte, 1)
	for {
		if _, err := io.ReadFull(r, one); err != nil {
			if len(prefix) > 0 && err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		prefix = append(prefix, one[0])
		if one[0] < 0x80 || len(prefix) == binary.MaxVarintLen64 {
			break
		}
	}

	size, n := protowire.ConsumeVarint(prefix)
	if err := protowire.ParseError(n); err != nil {
		return nil, err
	}
	if size > enc.limit() {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

func (enc BytesCodec) limit() uint64 {
	if enc.maxFrameSize == 0 {
		return DefaultMaxFrameSize
	}
	return enc.maxFrameSize
}
