package codec

import (
	"fmt"
	"reflect"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

var protoJSONMarshalOptions = protojson.MarshalOptions{
	EmitUnpopulated: true,
}

type protoCodec[T proto.Message] struct {
	subject   string
	prototype T
}

// Proto returns a codec that (de)serializes the proto message T as
// canonical proto JSON under the given subject.
func Proto[T proto.Message](subject string) Codec {
	var prototype T
	t := reflect.TypeOf(prototype)
	if t != nil && t.Kind() == reflect.Pointer {
		prototype = reflect.New(t.Elem()).Interface().(T)
	}
	return protoCodec[T]{subject: subject, prototype: prototype}
}

func (c protoCodec[T]) Subject() string { return c.subject }

func (c protoCodec[T]) Type() reflect.Type {
	return reflect.TypeOf(c.prototype)
}

func (c protoCodec[T]) Encode(msg any) ([]byte, error) {
	typed, ok := msg.(T)
	if !ok {
		return nil, fmt.Errorf("typebus: subject %q expects %v, got %T", c.subject, c.Type(), msg)
	}
	return protoJSONMarshalOptions.Marshal(typed)
}

func (c protoCodec[T]) Decode(payload []byte) (any, error) {
	typed := c.prototype.ProtoReflect().New().Interface()
	if err := protojson.Unmarshal(payload, typed); err != nil {
		return nil, fmt.Errorf("typebus: decoding subject %q: %w", c.subject, err)
	}
	return typed, nil
}
