package models

// TrafficMetric is one camera measurement.
type TrafficMetric struct {
	CameraID          string         `json:"cameraId"`
	CameraName        string         `json:"cameraName,omitempty"`
	District          string         `json:"district,omitempty"`
	TotalCount        int            `json:"totalCount"`
	Details           map[string]int `json:"detectionDetails"`
	Timestamp         *Timestamp     `json:"timestamp,omitempty"`
	AnnotatedImageURL string         `json:"annotatedImageUrl,omitempty"`
	Coordinates       []float64      `json:"coordinates,omitempty"`
	Synthetic         bool           `json:"synthetic,omitempty"`
}

// TrafficRecord is a stored measurement.
type TrafficRecord struct {
	ID int64 `json:"id"`
	TrafficMetric
	MaxCount *int `json:"maxCount,omitempty"`
}

// LatestTraffic is the response of the cached latest endpoint.
type LatestTraffic struct {
	Live    bool            `json:"live"`
	State   string          `json:"state"`
	Metrics []TrafficMetric `json:"metrics"`
	Count   int             `json:"count"`
}

// HourlySeries maps hour keys (2006-01-02T15:00:00) to vehicle totals.
type HourlySeries struct {
	District string           `json:"district,omitempty"`
	CameraID string           `json:"cameraId,omitempty"`
	Hours    map[string]int64 `json:"hours"`
}

// StreamMessage is one WebSocket frame sent to stream clients.
type StreamMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Stream message types.
const (
	StreamTypeSnapshot = "snapshot"
	StreamTypeTraffic  = "traffic"
	StreamTypeStats    = "stats"
)
