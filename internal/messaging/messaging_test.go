package messaging

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDispositionFor(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want Disposition
	}{
		{name: "success", err: nil, want: DispositionAck},
		{name: "transient", err: base, want: DispositionNak},
		{name: "terminal", err: Terminal(base), want: DispositionTerm},
		{name: "wrapped terminal", err: fmt.Errorf("handle: %w", Terminal(base)), want: DispositionTerm},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DispositionFor(tt.err))
		})
	}
}

func TestTerminal(t *testing.T) {
	base := errors.New("bad event")
	err := Terminal(base)

	assert.ErrorIs(t, err, base)
	assert.Equal(t, "bad event", err.Error())
	assert.True(t, IsTerminal(err))
	assert.False(t, IsTerminal(base))
	assert.NoError(t, Terminal(nil))
}

func TestDispositionString(t *testing.T) {
	assert.Equal(t, "ack", DispositionAck.String())
	assert.Equal(t, "nak", DispositionNak.String())
	assert.Equal(t, "term", DispositionTerm.String())
	assert.Equal(t, "unknown", Disposition(42).String())
}

func TestSubjects(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{name: "ingest subscription", got: IngestSubject("subscription"), want: "events.ingest.subscription"},
		{name: "ingest default", got: IngestSubject(""), want: "events.ingest.default"},
		{name: "dlq validation", got: DLQSubject("validation"), want: "events.dlq.validation"},
		{name: "dlq unknown", got: DLQSubject(""), want: "events.dlq.unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

type fakeConn bool

func (f fakeConn) IsConnected() bool { return bool(f) }

func TestCheckHealth(t *testing.T) {
	assert.Equal(t, HealthStatus{Connected: true}, CheckHealth(fakeConn(true)))
	assert.False(t, CheckHealth(fakeConn(false)).Connected)
	assert.NotEmpty(t, CheckHealth(fakeConn(false)).Error)
	assert.Equal(t, "client is nil", CheckHealth(nil).Error)
}
