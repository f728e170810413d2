// Package camera provides the traffic camera registry with read-through caching.
package camera

import (
	"errors"
	"sort"
	"time"

	"github.com/trafficwatch/trafficwatch/internal/geo"
)

// Domain errors.
var (
	ErrCameraNotFound      = errors.New("camera not found")
	ErrRegistryUnavailable = errors.New("camera registry unavailable")
)

// Camera is a fixed roadside camera.
type Camera struct {
	// ID is the public camera identifier.
	ID string

	// AltID is the registry's internal document id, used when ID is empty.
	AltID string

	Name     string
	District string
	Location geo.Point

	// IP is the camera's stream address, when the registry exposes it.
	IP string

	LiveViewURL string
	PTZ         bool
	Angle       float64
}

// Key returns the identity of the camera: ID, then AltID, then Name.
func (c Camera) Key() string {
	switch {
	case c.ID != "":
		return c.ID
	case c.AltID != "":
		return c.AltID
	default:
		return c.Name
	}
}

// Snapshot is one fetch of the camera registry.
type Snapshot struct {
	Cameras   []Camera
	FetchedAt time.Time
	Source    string

	byKey map[string]int
}

// NewSnapshot indexes cameras by key. Later duplicates of a key are dropped.
func NewSnapshot(cameras []Camera, source string, fetchedAt time.Time) *Snapshot {
	s := &Snapshot{
		Cameras:   make([]Camera, 0, len(cameras)),
		FetchedAt: fetchedAt,
		Source:    source,
		byKey:     make(map[string]int, len(cameras)),
	}
	for _, c := range cameras {
		key := c.Key()
		if key == "" {
			continue
		}
		if _, dup := s.byKey[key]; dup {
			continue
		}
		s.byKey[key] = len(s.Cameras)
		s.Cameras = append(s.Cameras, c)
	}
	return s
}

// Get returns the camera with the given key.
func (s *Snapshot) Get(key string) (Camera, bool) {
	i, ok := s.byKey[key]
	if !ok {
		return Camera{}, false
	}
	return s.Cameras[i], true
}

// Keys returns every camera key in registry order.
func (s *Snapshot) Keys() []string {
	keys := make([]string, len(s.Cameras))
	for i, c := range s.Cameras {
		keys[i] = c.Key()
	}
	return keys
}

// Placeable returns the cameras that have a usable map location.
func (s *Snapshot) Placeable() []Camera {
	out := make([]Camera, 0, len(s.Cameras))
	for _, c := range s.Cameras {
		if c.Location.Valid() {
			out = append(out, c)
		}
	}
	return out
}

// InDistrict returns the cameras of one district.
func (s *Snapshot) InDistrict(district string) []Camera {
	out := make([]Camera, 0)
	for _, c := range s.Cameras {
		if c.District == district {
			out = append(out, c)
		}
	}
	return out
}

// Districts returns the distinct non-empty district names, sorted.
func (s *Snapshot) Districts() []string {
	seen := make(map[string]struct{})
	for _, c := range s.Cameras {
		if c.District != "" {
			seen[c.District] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
