package traffic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficwatch/trafficwatch/internal/geo"
	"github.com/trafficwatch/trafficwatch/internal/traffic"
)

func TestDecode_CamelCase(t *testing.T) {
	payload := `{
		"id": 81,
		"cameraId": "cam1",
		"cameraName": "Cầu Kiệu",
		"district": "Phú Nhuận",
		"annotatedImageUrl": "http://images.test/cam1.jpg",
		"coordinates": [106.689, 10.791],
		"detectionDetails": {"car": 3, "motorcycle": 8, "truck": 1},
		"totalCount": 12,
		"timestamp": "2025-11-30T10:15:30.000+07:00"
	}`

	m, err := traffic.Decode([]byte(payload))
	require.NoError(t, err)

	assert.Equal(t, "cam1", m.Key())
	assert.Equal(t, "Cầu Kiệu", m.CameraName)
	assert.Equal(t, "Phú Nhuận", m.District)
	assert.Equal(t, 12, m.TotalCount)
	assert.Equal(t, map[string]int{"car": 3, "motorcycle": 8, "truck": 1}, m.Details)
	assert.Equal(t, "http://images.test/cam1.jpg", m.AnnotatedImageURL)
	require.NotNil(t, m.Location)
	assert.Equal(t, geo.Point{Lat: 10.791, Lon: 106.689}, *m.Location)
	assert.True(t, m.Timestamp.Equal(time.Date(2025, 11, 30, 3, 15, 30, 0, time.UTC)))
	assert.False(t, m.Synthetic)
}

func TestDecode_SnakeCase(t *testing.T) {
	payload := `{
		"camera_id": "cam2",
		"camera_name": "Hàng Xanh",
		"district": "Bình Thạnh",
		"liveview_url": "http://live.test/cam2",
		"total_count": 7,
		"detection_details": {"motorcycle": 5, "car": 2},
		"timestamp": 1764472530000,
		"timestamp_vn": "2025-11-30T10:15:30",
		"annotated_image_url": "http://images.test/cam2.jpg"
	}`

	m, err := traffic.Decode([]byte(payload))
	require.NoError(t, err)

	assert.Equal(t, "cam2", m.CameraID)
	assert.Equal(t, "Hàng Xanh", m.CameraName)
	assert.Equal(t, 7, m.TotalCount)
	assert.Equal(t, "http://images.test/cam2.jpg", m.AnnotatedImageURL)
	assert.Equal(t, int64(1764472530000), m.Timestamp.UnixMilli())
	assert.Nil(t, m.Location)
}

func TestDecode_CamelCaseTakesPrecedence(t *testing.T) {
	payload := `{"cameraId": "camel", "camera_id": "snake", "totalCount": 4, "total_count": 9}`

	m, err := traffic.Decode([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, "camel", m.CameraID)
	assert.Equal(t, 4, m.TotalCount)
}

func TestDecode_NullFallsThroughToSnakeCase(t *testing.T) {
	payload := `{"cameraId": null, "camera_id": "snake"}`

	m, err := traffic.Decode([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, "snake", m.CameraID)
}

func TestDecode_TotalDefaultsToBreakdownSum(t *testing.T) {
	m, err := traffic.Decode([]byte(`{"cameraId": "cam3", "detectionDetails": {"car": 2, "bus": 1}}`))
	require.NoError(t, err)
	assert.Equal(t, 3, m.TotalCount)
	assert.True(t, m.Timestamp.IsZero())
}

func TestDecode_ZonelessTimestampUsesLocation(t *testing.T) {
	loc := time.FixedZone("ICT", 7*3600)

	m, err := traffic.DecodeIn([]byte(`{"camera_id": "cam4", "timestamp_vn": "2025-11-30T10:15:30"}`), loc)
	require.NoError(t, err)
	assert.True(t, m.Timestamp.Equal(time.Date(2025, 11, 30, 3, 15, 30, 0, time.UTC)))
}

func TestDecode_EpochSeconds(t *testing.T) {
	m, err := traffic.Decode([]byte(`{"cameraId": "cam5", "timestamp": 1764472530}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1764472530), m.Timestamp.Unix())
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `cam1:12`},
		{"array of numbers", `[1, 2]`},
		{"string", `"cam1"`},
		{"missing id", `{"totalCount": 3}`},
		{"empty id", `{"cameraId": ""}`},
		{"total not a number", `{"cameraId": "cam1", "totalCount": "many"}`},
		{"details not an object", `{"cameraId": "cam1", "detectionDetails": [1, 2]}`},
		{"bad timestamp", `{"cameraId": "cam1", "timestamp": "yesterday"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := traffic.Decode([]byte(tt.payload))
			assert.ErrorIs(t, err, traffic.ErrMalformedPayload)
		})
	}

	_, err := traffic.Decode([]byte(`{"district": "Quận 1"}`))
	assert.ErrorIs(t, err, traffic.ErrMissingCameraID)
}

func TestDecodeMessage_Batch(t *testing.T) {
	payload := `[
		{"cameraId": "cam1", "totalCount": 12},
		{"totalCount": 3},
		{"camera_id": "cam2", "total_count": 5}
	]`

	metrics, err := traffic.DecodeMessage([]byte(payload), time.UTC)

	require.Len(t, metrics, 2)
	assert.Equal(t, "cam1", metrics[0].CameraID)
	assert.Equal(t, "cam2", metrics[1].CameraID)
	assert.ErrorIs(t, err, traffic.ErrMissingCameraID)
	assert.ErrorContains(t, err, "item 1")
}

func TestDecodeMessage_Single(t *testing.T) {
	metrics, err := traffic.DecodeMessage([]byte(`{"cameraId": "cam1", "totalCount": 12}`), time.UTC)
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.Equal(t, 12, metrics[0].TotalCount)
}

func TestMetric_CloneIsDeep(t *testing.T) {
	loc := geo.Point{Lat: 10.7, Lon: 106.7}
	m := traffic.Metric{CameraID: "cam1", Details: map[string]int{"car": 1}, Location: &loc}

	c := m.Clone()
	c.Details["car"] = 99
	c.Location.Lat = 0

	assert.Equal(t, 1, m.Details["car"])
	assert.InDelta(t, 10.7, m.Location.Lat, 0)
}
