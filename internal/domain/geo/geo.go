// Package geo estimates distances and travel times between resolved points and
// sequences multi-stop routes. It never geocodes; unresolved addresses are
// represented as Unknown locations.
package geo

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// EarthRadiusMeters is the mean Earth radius used by the Haversine formula.
const EarthRadiusMeters = 6_371_000.0

const (
	metersPerKm    = 1000.0
	minutesPerHour = 60.0
	maxLatitude    = 90.0
	maxLongitude   = 180.0
)

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point is a finite, in-range coordinate.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return false
	}
	return p.Lat >= -maxLatitude && p.Lat <= maxLatitude &&
		p.Lng >= -maxLongitude && p.Lng <= maxLongitude
}

// Location is an optional point. The zero value is Unknown.
type Location struct {
	point Point
	known bool
}

// Unknown is the location of an address the geocoder could not resolve.
var Unknown = Location{}

// At returns a known location, or Unknown if the coordinate is invalid.
func At(lat, lng float64) Location {
	return FromPoint(Point{Lat: lat, Lng: lng})
}

// FromPoint wraps p, returning Unknown for invalid coordinates.
func FromPoint(p Point) Location {
	if !p.Valid() {
		return Unknown
	}
	return Location{point: p, known: true}
}

// FromPtr converts nullable coordinates (as stored by most persistence layers).
func FromPtr(lat, lng *float64) Location {
	if lat == nil || lng == nil {
		return Unknown
	}
	return At(*lat, *lng)
}

// Point returns the underlying point and whether it is known.
func (l Location) Point() (Point, bool) { return l.point, l.known }

// Known reports whether the location resolved to a point.
func (l Location) Known() bool { return l.known }

// String implements fmt.Stringer.
func (l Location) String() string {
	if !l.known {
		return "unknown"
	}
	return fmt.Sprintf("(%.6f,%.6f)", l.point.Lat, l.point.Lng)
}

// Distance is a great-circle distance that may be unknown.
type Distance struct {
	Meters float64 `json:"meters"`
	Known  bool    `json:"known"`
}

// UnknownDistance is the sentinel for a distance involving an unknown location.
var UnknownDistance = Distance{}

// Km returns the distance in kilometers; callers must check Known first.
func (d Distance) Km() float64 { return d.Meters / metersPerKm }

// Add sums two distances; the result is unknown if either side is.
func (d Distance) Add(o Distance) Distance {
	if !d.Known || !o.Known {
		return UnknownDistance
	}
	return Distance{Meters: d.Meters + o.Meters, Known: true}
}

// Less orders known distances before unknown ones.
func (d Distance) Less(o Distance) bool {
	switch {
	case d.Known && !o.Known:
		return true
	case !d.Known:
		return false
	default:
		return d.Meters < o.Meters
	}
}

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusMeters * c
}

// Between returns the distance between two optional locations.
func Between(a, b Location) Distance {
	pa, okA := a.Point()
	pb, okB := b.Point()
	if !okA || !okB {
		return UnknownDistance
	}
	return Distance{Meters: Haversine(pa, pb), Known: true}
}

// Mode is a travel mode with its own speed table.
type Mode string

// Supported travel modes.
const (
	ModeCar    Mode = "car"
	ModePublic Mode = "public"
	ModeBike   Mode = "bike"
)

// speeds holds min/average/max speeds in km/h.
type speeds struct {
	min, avg, max float64
}

func (m Mode) speeds() (speeds, error) {
	switch m {
	case ModeCar:
		return speeds{min: 15, avg: 25, max: 40}, nil
	case ModePublic:
		return speeds{min: 15, avg: 20, max: 30}, nil
	case ModeBike:
		return speeds{min: 10, avg: 15, max: 25}, nil
	default:
		return speeds{}, fmt.Errorf("%w: %q", ErrUnknownMode, string(m))
	}
}

// ParseMode parses a travel mode name.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if _, err := m.speeds(); err != nil {
		return "", err
	}
	return m, nil
}

// UnmarshalText implements encoding.TextUnmarshaler using ParseMode. An
// empty value leaves the mode unset so callers apply their default.
func (m *Mode) UnmarshalText(b []byte) error {
	if strings.TrimSpace(string(b)) == "" {
		*m = ""
		return nil
	}
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// TravelTime is a travel-time estimate in minutes.
type TravelTime struct {
	Min     float64 `json:"min_minutes"`
	Average float64 `json:"average_minutes"`
	Max     float64 `json:"max_minutes"`
	Known   bool    `json:"known"`
}

// Add sums two estimates; the result is unknown if either side is.
func (t TravelTime) Add(o TravelTime) TravelTime {
	if !t.Known || !o.Known {
		return TravelTime{}
	}
	return TravelTime{Min: t.Min + o.Min, Average: t.Average + o.Average, Max: t.Max + o.Max, Known: true}
}

// EstimateTravelTime converts a distance into min/average/max minutes for the
// mode. The fastest speed gives the minimum time. An unknown or negative
// distance yields an unknown estimate rather than an error.
func EstimateTravelTime(d Distance, mode Mode) (TravelTime, error) {
	sp, err := mode.speeds()
	if err != nil {
		return TravelTime{}, err
	}
	if !d.Known || d.Meters < 0 || math.IsNaN(d.Meters) || math.IsInf(d.Meters, 0) {
		return TravelTime{}, nil
	}
	km := d.Km()
	return TravelTime{
		Min:     km / sp.max * minutesPerHour,
		Average: km / sp.avg * minutesPerHour,
		Max:     km / sp.min * minutesPerHour,
		Known:   true,
	}, nil
}

// MarshalJSON encodes a known location as {"lat":..,"lng":..} and Unknown as null.
func (l Location) MarshalJSON() ([]byte, error) {
	if !l.known {
		return []byte("null"), nil
	}
	return json.Marshal(l.point)
}

// UnmarshalJSON accepts null or a point; invalid points decode as Unknown.
func (l *Location) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*l = Unknown
		return nil
	}
	var p Point
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("decode location: %w", err)
	}
	*l = FromPoint(p)
	return nil
}
