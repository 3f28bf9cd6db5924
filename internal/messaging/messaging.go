// Package messaging provides abstractions for message broker communication.
// It lets the front door publish events and workers consume them without
// being coupled to a specific broker implementation.
package messaging

import (
	"context"
	"errors"
	"time"
)

// Header names carried on published events.
const (
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderEventID       = "X-Event-ID"
	HeaderChannel       = "X-Channel"
)

// Message represents a message received from or sent to a message broker.
type Message struct {
	// Subject is the topic/channel the message was published to.
	Subject string

	// Data is the raw message payload.
	Data []byte

	// Metadata contains optional key-value pairs for message headers.
	Metadata map[string]string

	// Timestamp is when the message was published.
	Timestamp time.Time

	// NumDelivered is how many times the broker has delivered this message,
	// starting at 1. Zero when the broker does not track deliveries.
	NumDelivered uint64
}

// MessageHandler processes a received message. Returning nil acknowledges it,
// returning a Terminal error drops it for good, and any other error asks the
// broker to redeliver.
type MessageHandler func(ctx context.Context, msg *Message) error

// Publisher publishes messages to subjects.
type Publisher interface {
	// Publish sends data to the subject and returns once the broker has
	// accepted it.
	Publish(ctx context.Context, subject string, data []byte) error

	// PublishMsg sends a Message with headers.
	PublishMsg(ctx context.Context, msg *Message) error

	// Close releases any resources held by the publisher.
	Close() error
}

type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal marks err so that the consumer stops redelivering the message.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether err was marked with Terminal.
func IsTerminal(err error) bool {
	var te *terminalError
	return errors.As(err, &te)
}

// Disposition is what a consumer does with a message after handling it.
type Disposition int

const (
	DispositionAck Disposition = iota
	DispositionNak
	DispositionTerm
)

func (d Disposition) String() string {
	switch d {
	case DispositionAck:
		return "ack"
	case DispositionNak:
		return "nak"
	case DispositionTerm:
		return "term"
	default:
		return "unknown"
	}
}

// DispositionFor maps a handler result to a Disposition.
func DispositionFor(err error) Disposition {
	switch {
	case err == nil:
		return DispositionAck
	case IsTerminal(err):
		return DispositionTerm
	default:
		return DispositionNak
	}
}
