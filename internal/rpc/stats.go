package rpc

import (
	"github.com/cpopescu/streamgraph/internal/stats"
)

// StreamsStatsResponse is GetStreamsStats's JSON reply.
type StreamsStatsResponse struct {
	Count            int                            `json:"count"`
	BandwidthUpAvg   float64                        `json:"bandwidth_up_avg"`
	BandwidthDownAvg float64                        `json:"bandwidth_down_avg"`
	DurationAvg      float64                        `json:"duration_avg"`
	Streams          map[string]stats.MediaStreamStats `json:"streams"`
}

func toStreamsStatsResponse(s stats.StreamsStats) StreamsStatsResponse {
	out := StreamsStatsResponse{
		Count: s.Count, BandwidthUpAvg: s.BandwidthUpAvg,
		BandwidthDownAvg: s.BandwidthDownAvg, DurationAvg: s.DurationAvg,
		Streams: make(map[string]stats.MediaStreamStats, len(s.Streams)),
	}
	for id, v := range s.Streams {
		out.Streams[id] = *v
	}
	return out
}

// DetailedMediaResponse is GetDetailedMediaStats's JSON reply.
type DetailedMediaResponse struct {
	Media map[string]stats.MediaBeginEnd `json:"media"`
}
