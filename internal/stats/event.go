// Package stats implements the statistics collector: a
// bounded producer-consumer queue feeding a dedicated worker that
// broadcasts every event to each registered StatsSaver, plus the
// in-memory begin/end maps live RPC queries read from directly, grounded
// on whisperstreamlib/stats2's StatsCollector.
package stats

// EventKind distinguishes which of the three begin/end event families an
// Event carries.
type EventKind int

const (
	EventConnectionBegin EventKind = iota
	EventConnectionEnd
	EventStreamBegin
	EventStreamEnd
	EventMediaBegin
	EventMediaEnd
)

func (k EventKind) String() string {
	switch k {
	case EventConnectionBegin:
		return "connection_begin"
	case EventConnectionEnd:
		return "connection_end"
	case EventStreamBegin:
		return "stream_begin"
	case EventStreamEnd:
		return "stream_end"
	case EventMediaBegin:
		return "media_begin"
	case EventMediaEnd:
		return "media_end"
	default:
		return "unknown"
	}
}

// ConnectionBegin is the constant snapshot taken when a client connection
// is accepted.
type ConnectionBegin struct {
	ConnectionID   string
	RemoteAddr     string
	TimestampUtcMs int64
}

// ConnectionEnd is continuously updated while the connection lives and
// re-emitted on close.
type ConnectionEnd struct {
	ConnectionID string
	BytesUp      int64
	BytesDown    int64
}

// StreamBegin is the constant snapshot taken when a named stream (e.g. a
// switching element's logical media name) starts being served.
type StreamBegin struct {
	StreamID       string
	TimestampUtcMs int64
}

// StreamEnd marks a named stream no longer being served; it carries only
// the stream id.
type StreamEnd struct {
	StreamID string
}

// MediaBegin is the constant snapshot taken when one request starts
// consuming one piece of media; ContentID groups related MediaBegin
// entries under the same logical stream for GetStreamsStats.
type MediaBegin struct {
	MediaID        string
	ContentID      string
	RequestID      string
	TimestampUtcMs int64
}

// MediaEnd is continuously updated with byte counters while the request
// is active.
type MediaEnd struct {
	MediaID   string
	BytesUp   int64
	BytesDown int64
}

// Event is one broadcastable unit of work for the collector's worker:
// exactly one of the six payload fields is populated, matching the
// original's single MediaStatEvent carrying one active field at a time.
type Event struct {
	Kind           EventKind
	ServerID       string
	ServerInstance int64
	TimestampUtcMs int64

	ConnectionBegin *ConnectionBegin
	ConnectionEnd   *ConnectionEnd
	StreamBegin     *StreamBegin
	StreamEnd       *StreamEnd
	MediaBegin      *MediaBegin
	MediaEnd        *MediaEnd
}
