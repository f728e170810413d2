package models

// Camera is a camera in API responses.
type Camera struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	District    string  `json:"district,omitempty"`
	Location    *Point  `json:"location,omitempty"`
	LiveViewURL string  `json:"liveviewUrl,omitempty"`
	PTZ         bool    `json:"ptz"`
	Angle       float64 `json:"angle"`
}

// Marker is a camera on the map with its latest measurement.
type Marker struct {
	Camera
	Traffic *TrafficMetric `json:"traffic,omitempty"`
}

// MarkerList is the response of the markers endpoint.
type MarkerList struct {
	Zoom         float64  `json:"zoom"`
	RadiusMeters float64  `json:"clusterRadiusMeters"`
	Markers      []Marker `json:"markers"`
	Count        int      `json:"count"`
}
