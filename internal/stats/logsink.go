package stats

import "github.com/cpopescu/streamgraph/pkg/logging"

// LogSink writes every Event as a structured log line. It is the default
// saver when no Kafka brokers are configured, so the collector stays
// useful standalone.
type LogSink struct {
	logger logging.Logger
}

func NewLogSink(logger logging.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Save(ev *Event) {
	fields := map[string]any{
		"kind":            ev.Kind.String(),
		"server_id":       ev.ServerID,
		"server_instance": ev.ServerInstance,
		"timestamp_ms":    ev.TimestampUtcMs,
	}
	switch ev.Kind {
	case EventConnectionBegin:
		fields["connection_id"] = ev.ConnectionBegin.ConnectionID
	case EventConnectionEnd:
		fields["connection_id"] = ev.ConnectionEnd.ConnectionID
		fields["bytes_up"] = ev.ConnectionEnd.BytesUp
		fields["bytes_down"] = ev.ConnectionEnd.BytesDown
	case EventStreamBegin:
		fields["stream_id"] = ev.StreamBegin.StreamID
	case EventStreamEnd:
		fields["stream_id"] = ev.StreamEnd.StreamID
	case EventMediaBegin:
		fields["media_id"] = ev.MediaBegin.MediaID
		fields["content_id"] = ev.MediaBegin.ContentID
	case EventMediaEnd:
		fields["media_id"] = ev.MediaEnd.MediaID
		fields["bytes_up"] = ev.MediaEnd.BytesUp
		fields["bytes_down"] = ev.MediaEnd.BytesDown
	}
	s.logger.WithFields(fields).Debug("stats event")
}

func (s *LogSink) Close() error { return nil }

var _ StatsSaver = (*LogSink)(nil)
