// Package codec routes messages between their wire payloads and typed Go
// values. A Register maps subjects to codecs for decoding and Go types to
// codecs for encoding; an unregistered subject or type is always an error,
// never silently dropped.
package codec

import (
	"fmt"
	"reflect"
)

// Codec converts one message type to and from its wire payload.
type Codec interface {
	// Subject is the stable wire-schema identifier for this codec's type.
	Subject() string
	// Type is the Go type produced by Decode and accepted by Encode.
	Type() reflect.Type
	Encode(msg any) ([]byte, error)
	Decode(payload []byte) (any, error)
}

// UnknownSubjectError reports a payload whose subject has no registered
// decoder.
type UnknownSubjectError struct {
	Subject string
}

func (e *UnknownSubjectError) Error() string {
	return fmt.Sprintf("typebus: no codec registered for subject %q", e.Subject)
}

// UnknownTypeError reports a message whose runtime type has no registered
// encoder.
type UnknownTypeError struct {
	Type reflect.Type
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("typebus: no codec registered for type %v", e.Type)
}

// Register maps subjects and types to codecs, bidirectionally. It is built
// during bus assembly and must not be mutated after the bus starts; reads
// are then safe from any number of concurrent dispatches.
type Register struct {
	bySubject map[string]Codec
	byType    map[reflect.Type]Codec
}

// NewRegister creates an empty register.
func NewRegister() *Register {
	return &Register{
		bySubject: make(map[string]Codec),
		byType:    make(map[reflect.Type]Codec),
	}
}

// Add registers a codec under its subject and type. Registering two codecs
// for the same subject or the same type is a configuration error.
func (r *Register) Add(c Codec) error {
	if c == nil {
		return fmt.Errorf("typebus: codec is required")
	}
	subject := c.Subject()
	if subject == "" {
		return fmt.Errorf("typebus: codec subject is required")
	}
	if existing, ok := r.bySubject[subject]; ok {
		if existing.Type() == c.Type() {
			return nil
		}
		return fmt.Errorf("typebus: subject %q already registered for type %v", subject, existing.Type())
	}
	if existing, ok := r.byType[c.Type()]; ok {
		return fmt.Errorf("typebus: type %v already registered under subject %q", c.Type(), existing.Subject())
	}
	r.bySubject[subject] = c
	r.byType[c.Type()] = c
	return nil
}

// Has reports whether a codec is registered for the subject.
func (r *Register) Has(subject string) bool {
	_, ok := r.bySubject[subject]
	return ok
}

// Decode turns a payload into a typed message using the decoder registered
// for the subject. Lookup is by exact, case-sensitive subject string.
func (r *Register) Decode(subject string, payload []byte) (any, error) {
	c, ok := r.bySubject[subject]
	if !ok {
		return nil, &UnknownSubjectError{Subject: subject}
	}
	return c.Decode(payload)
}

// Encode turns a typed message into its subject and wire payload using the
// encoder registered for the message's runtime type.
func (r *Register) Encode(msg any) (string, []byte, error) {
	t := reflect.TypeOf(msg)
	c, ok := r.byType[t]
	if !ok {
		return "", nil, &UnknownTypeError{Type: t}
	}
	payload, err := c.Encode(msg)
	if err != nil {
		return "", nil, err
	}
	return c.Subject(), payload, nil
}

// TypeFor returns the Go type registered under the subject, if any.
func (r *Register) TypeFor(subject string) (reflect.Type, bool) {
	c, ok := r.bySubject[subject]
	if !ok {
		return nil, false
	}
	return c.Type(), true
}
