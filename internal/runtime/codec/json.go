package codec

import (
	"fmt"
	"reflect"

	"github.com/bytedance/sonic"
)

var jsonConfig = sonic.ConfigStd

type jsonCodec[T any] struct {
	subject string
}

// JSON returns a codec that (de)serializes *T as JSON under the given
// subject.
func JSON[T any](subject string) Codec {
	return jsonCodec[T]{subject: subject}
}

func (c jsonCodec[T]) Subject() string { return c.subject }

func (c jsonCodec[T]) Type() reflect.Type {
	return reflect.TypeOf((*T)(nil))
}

func (c jsonCodec[T]) Encode(msg any) ([]byte, error) {
	typed, ok := msg.(*T)
	if !ok {
		return nil, fmt.Errorf("typebus: subject %q expects %v, got %T", c.subject, c.Type(), msg)
	}
	return jsonConfig.Marshal(typed)
}

func (c jsonCodec[T]) Decode(payload []byte) (any, error) {
	typed := new(T)
	if err := jsonConfig.Unmarshal(payload, typed); err != nil {
		return nil, fmt.Errorf("typebus: decoding subject %q: %w", c.subject, err)
	}
	return typed, nil
}
