package messaging

// Subjects follow the pattern {domain}.{action}.{resource}.
const (
	// SubjectIngestPrefix carries admitted events; the channel is appended.
	SubjectIngestPrefix = "events.ingest"
	SubjectIngestAll    = SubjectIngestPrefix + ".>"

	// SubjectDLQPrefix carries terminally failed events; the reason is appended.
	SubjectDLQPrefix = "events.dlq"
	SubjectDLQAll    = SubjectDLQPrefix + ".>"
)

// Stream and consumer names.
const (
	StreamEvents    = "EVENTS"
	StreamDLQ       = "EVENTS_DLQ"
	ConsumerWorkers = "eventgate-workers"
)

// IngestSubject returns the subject for events received on channel.
// Example: events.ingest.subscription
func IngestSubject(channel string) string {
	if channel == "" {
		channel = "default"
	}
	return SubjectIngestPrefix + "." + channel
}

// DLQSubject returns the dead letter subject for reason.
// Example: events.dlq.validation
func DLQSubject(reason string) string {
	if reason == "" {
		reason = "unknown"
	}
	return SubjectDLQPrefix + "." + reason
}
