package errors

import sterrors "errors"

var (
	ErrBusRequired          = sterrors.New("typebus: bus is required")
	ErrHandlerRequired      = sterrors.New("typebus: handler function is required")
	ErrConsumeQueueRequired = sterrors.New("typebus: consume queue is required")
	ErrSubjectRequired      = sterrors.New("typebus: subject is required")
	ErrCodecRequired        = sterrors.New("typebus: codec is required")
	ErrPublisherRequired    = sterrors.New("typebus: publisher is required")
	ErrTopicRequired        = sterrors.New("typebus: topic is required")
	ErrConfigRequired       = sterrors.New("typebus: config is required")
	ErrLoggerRequired       = sterrors.New("typebus: logger is required")
	ErrPayloadRequired      = sterrors.New("typebus: message payload is required")
	ErrAlreadyStarted       = sterrors.New("typebus: bus already started")
)
