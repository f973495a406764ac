package mqtt

import "errors"

// ErrNotConnected is returned when the broker connection is down.
var ErrNotConnected = errors.New("mqtt client not connected")

// ErrBadTopic is returned when a topic does not match the subscription pattern.
var ErrBadTopic = errors.New("topic does not match pattern")
