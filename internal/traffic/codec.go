package traffic

import (
	"time"

	"github.com/trafficwatch/trafficwatch/internal/feed"
)

// FeedCodec adapts Metric to a feed manager. Zone-less timestamps are read in loc.
func FeedCodec(loc *time.Location) feed.Codec[Metric] {
	if loc == nil {
		loc = time.UTC
	}
	return feed.Codec[Metric]{
		Decode: func(data []byte) ([]Metric, error) {
			return DecodeMessage(data, loc)
		},
		Key:        Metric.Key,
		Synthesize: Synthesize,
		Clone:      Metric.Clone,
	}
}
