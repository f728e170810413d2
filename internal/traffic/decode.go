package traffic

import (
	"errors"
	"fmt"
	"time"

	"github.com/trafficwatch/trafficwatch/internal/geo"
	"github.com/trafficwatch/trafficwatch/internal/wire"
)

// Field names in lookup order. The dashboard service publishes camelCase;
// the processing pipeline publishes snake_case.
var (
	fieldCameraID    = []string{"cameraId", "camera_id"}
	fieldCameraName  = []string{"cameraName", "camera_name"}
	fieldDistrict    = []string{"district"}
	fieldTotal       = []string{"totalCount", "total_count"}
	fieldDetails     = []string{"detectionDetails", "detection_details"}
	fieldImageURL    = []string{"annotatedImageUrl", "annotated_image_url"}
	fieldCoordinates = []string{"coordinates"}
	fieldTimestamp   = []string{"timestamp", "timestamp_vn"}
)

// Decode parses one traffic payload. Zone-less timestamps are read as UTC.
func Decode(data []byte) (Metric, error) {
	return DecodeIn(data, time.UTC)
}

// DecodeIn parses one traffic payload, reading zone-less timestamps in loc.
func DecodeIn(data []byte, loc *time.Location) (Metric, error) {
	obj, err := wire.ParseObject(data)
	if err != nil {
		return Metric{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return fromObject(obj, loc)
}

// DecodeMessage parses a channel message holding one payload or an array of
// them. Invalid elements are skipped and reported in the joined error.
func DecodeMessage(data []byte, loc *time.Location) ([]Metric, error) {
	items, err := wire.Split(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	out := make([]Metric, 0, len(items))
	var errs []error
	for i, item := range items {
		m, err := DecodeIn(item, loc)
		if err != nil {
			if len(items) > 1 {
				err = fmt.Errorf("item %d: %w", i, err)
			}
			errs = append(errs, err)
			continue
		}
		out = append(out, m)
	}
	return out, errors.Join(errs...)
}

func fromObject(obj wire.Object, loc *time.Location) (Metric, error) {
	malformed := func(err error) (Metric, error) {
		return Metric{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	id, ok, err := obj.String(fieldCameraID...)
	if err != nil {
		return malformed(err)
	}
	if !ok || id == "" {
		return malformed(ErrMissingCameraID)
	}

	m := Metric{CameraID: id}

	if m.CameraName, _, err = obj.String(fieldCameraName...); err != nil {
		return malformed(err)
	}
	if m.District, _, err = obj.String(fieldDistrict...); err != nil {
		return malformed(err)
	}
	if m.AnnotatedImageURL, _, err = obj.String(fieldImageURL...); err != nil {
		return malformed(err)
	}

	details, _, err := obj.Counts(fieldDetails...)
	if err != nil {
		return malformed(err)
	}
	if details == nil {
		details = map[string]int{}
	}
	m.Details = details

	total, hasTotal, err := obj.Int(fieldTotal...)
	if err != nil {
		return malformed(err)
	}
	if !hasTotal {
		total = m.DetailsSum()
	}
	m.TotalCount = total

	coords, hasCoords, err := obj.Floats(fieldCoordinates...)
	if err != nil {
		return malformed(err)
	}
	if hasCoords && len(coords) >= 2 {
		p := geo.Point{Lat: coords[1], Lon: coords[0]}
		if p.Valid() {
			m.Location = &p
		}
	}

	if m.Timestamp, _, err = obj.Time(loc, fieldTimestamp...); err != nil {
		return malformed(err)
	}

	return m, nil
}
