package metrics

import (
	"github.com/sirupsen/logrus"
)

//go:generate mockery --name=Sink --dir=. --output=../../../mocks --filename=metrics_sink_mock.go --case=underscore --with-expecter
type Sink interface {
	Emit(evt Event)
}

type nopSink struct{}

func NewNopSink() Sink {
	return nopSink{}
}

func (nopSink) Emit(Event) {}

type logSink struct {
	logger *logrus.Logger
}

// NewLogSink writes every event as a debug log line.
func NewLogSink(logger *logrus.Logger) Sink {
	return &logSink{logger: logger}
}

func (s *logSink) Emit(evt Event) {
	fields := logrus.Fields{
		"event":   evt.Type,
		"subject": evt.Subject,
	}
	if evt.Value != 0 {
		fields["value"] = evt.Value
	}
	for k, v := range evt.Labels {
		fields[k] = v
	}
	s.logger.WithFields(fields).Debug("signal emitted")
}

type multiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) Sink {
	return &multiSink{sinks: sinks}
}

func (m *multiSink) Emit(evt Event) {
	for _, s := range m.sinks {
		s.Emit(evt)
	}
}

// RecordingSink keeps emitted events in memory. Used by tests across packages.
type RecordingSink struct {
	events chan Event
}

func NewRecordingSink(capacity int) *RecordingSink {
	return &RecordingSink{events: make(chan Event, capacity)}
}

func (r *RecordingSink) Emit(evt Event) {
	select {
	case r.events <- evt:
	default:
	}
}

// Events drains everything recorded so far.
func (r *RecordingSink) Events() []Event {
	var out []Event
	for {
		select {
		case evt := <-r.events:
			out = append(out, evt)
		default:
			return out
		}
	}
}

// OfType drains the recorded events and keeps those of type t.
func (r *RecordingSink) OfType(t EventType) []Event {
	var out []Event
	for _, evt := range r.Events() {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}
