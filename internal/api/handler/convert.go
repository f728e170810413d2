package handler

import (
	"github.com/trafficwatch/trafficwatch/internal/api/models"
	"github.com/trafficwatch/trafficwatch/internal/camera"
	"github.com/trafficwatch/trafficwatch/internal/feed"
	"github.com/trafficwatch/trafficwatch/internal/history"
	"github.com/trafficwatch/trafficwatch/internal/mapview"
	"github.com/trafficwatch/trafficwatch/internal/traffic"
)

func toCamera(c camera.Camera) models.Camera {
	out := models.Camera{
		ID:          c.Key(),
		Name:        c.Name,
		District:    c.District,
		LiveViewURL: c.LiveViewURL,
		PTZ:         c.PTZ,
		Angle:       c.Angle,
	}
	if c.Location.Valid() {
		out.Location = &models.Point{Lat: c.Location.Lat, Lon: c.Location.Lon}
	}
	return out
}

func toCameras(cams []camera.Camera) []models.Camera {
	out := make([]models.Camera, len(cams))
	for i, c := range cams {
		out[i] = toCamera(c)
	}
	return out
}

func toMarker(m mapview.Marker) models.Marker {
	out := models.Marker{Camera: toCamera(m.Camera)}
	if m.HasMetric {
		metric := toTrafficMetric(m.Metric)
		out.Traffic = &metric
	}
	return out
}

// toTrafficMetric keeps the [lon, lat] coordinate order of the producer.
func toTrafficMetric(m traffic.Metric) models.TrafficMetric {
	out := models.TrafficMetric{
		CameraID:          m.CameraID,
		CameraName:        m.CameraName,
		District:          m.District,
		TotalCount:        m.TotalCount,
		Details:           m.Details,
		Timestamp:         models.TimestampPtr(m.Timestamp),
		AnnotatedImageURL: m.AnnotatedImageURL,
		Synthetic:         m.Synthetic,
	}
	if out.Details == nil {
		out.Details = map[string]int{}
	}
	if m.Location != nil {
		out.Coordinates = []float64{m.Location.Lon, m.Location.Lat}
	}
	return out
}

func toTrafficMetrics(metrics []traffic.Metric) []models.TrafficMetric {
	out := make([]models.TrafficMetric, len(metrics))
	for i, m := range metrics {
		out[i] = toTrafficMetric(m)
	}
	return out
}

func toRecord(r history.Record) models.TrafficRecord {
	return models.TrafficRecord{ID: r.ID, TrafficMetric: toTrafficMetric(r.Metric)}
}

func toRecords(records []history.Record) []models.TrafficRecord {
	out := make([]models.TrafficRecord, len(records))
	for i, r := range records {
		out[i] = toRecord(r)
	}
	return out
}

func toLatestRecords(records []history.LatestRecord) []models.TrafficRecord {
	out := make([]models.TrafficRecord, len(records))
	for i, r := range records {
		out[i] = toRecord(r.Record)
		maxCount := r.MaxCount
		out[i].MaxCount = &maxCount
	}
	return out
}

func toFeedStatus(s feed.Status) models.FeedStatus {
	return models.FeedStatus{
		Name:          s.Name,
		State:         s.State.String(),
		Live:          s.State == feed.StateLive,
		Subscribers:   s.Subscribers,
		CachedKeys:    s.CachedKeys,
		Attempts:      s.Attempts,
		Received:      s.Received,
		Dropped:       s.Dropped,
		LastMessageAt: models.TimestampPtr(s.LastMessageAt),
		LastError:     s.LastError,
	}
}
