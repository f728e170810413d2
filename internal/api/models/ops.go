package models

// Health represents the health status of the service.
type Health struct {
	Status  HealthStatus           `json:"status"`
	Time    Timestamp              `json:"time"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SystemStatus represents the overall system status.
type SystemStatus struct {
	Status    HealthStatus     `json:"status"`
	Time      Timestamp        `json:"time"`
	Feeds     []FeedStatus     `json:"feeds"`
	Upstreams []UpstreamStatus `json:"upstreams"`
	Cameras   CameraCache      `json:"cameras"`
}

// FeedStatus is the state of one telemetry feed.
type FeedStatus struct {
	Name          string     `json:"name"`
	State         string     `json:"state"`
	Live          bool       `json:"live"`
	Subscribers   int        `json:"subscribers"`
	CachedKeys    int        `json:"cachedKeys"`
	Attempts      int        `json:"reconnectAttempts"`
	Received      uint64     `json:"received"`
	Dropped       uint64     `json:"dropped"`
	LastMessageAt *Timestamp `json:"lastMessageAt,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
}

// UpstreamStatus represents the status of an upstream HTTP dependency.
type UpstreamStatus struct {
	Name                string       `json:"name"`
	Status              HealthStatus `json:"status"`
	Condition           string       `json:"condition"`
	CircuitState        string       `json:"circuitState"`
	Trips               int          `json:"trips"`
	ConsecutiveFailures uint32       `json:"consecutiveFailures"`
	LastSuccessAt       *Timestamp   `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *Timestamp   `json:"lastFailureAt,omitempty"`
	Message             string       `json:"message,omitempty"`
}

// CameraCache describes the cached camera registry.
type CameraCache struct {
	Loaded    bool       `json:"loaded"`
	Count     int        `json:"count"`
	Source    string     `json:"source,omitempty"`
	FetchedAt *Timestamp `json:"fetchedAt,omitempty"`
	Expired   bool       `json:"expired"`
}
