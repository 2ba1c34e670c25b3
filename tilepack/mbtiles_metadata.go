package tilepack

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

const (
	MetadataTypeBaselayer = "baselayer"
	MetadataVersion       = "1.0"
)

// MbtilesMetadata is the name/value table of a tile container.
type MbtilesMetadata struct {
	metadata map[string]string
}

func NewMbtilesMetadata(metadata map[string]string) *MbtilesMetadata {
	if metadata == nil {
		metadata = make(map[string]string)
	}

	return &MbtilesMetadata{
		metadata: metadata,
	}
}

// NewRasterMetadata carries the descriptive keys of a raster baselayer.
// Spatial keys are added by SetSpatial.
func NewRasterMetadata(name string, description string, format Format) *MbtilesMetadata {
	m := NewMbtilesMetadata(nil)
	m.Set("name", name)
	m.Set("type", MetadataTypeBaselayer)
	m.Set("version", MetadataVersion)
	m.Set("description", description)
	m.Set("format", string(format))
	return m
}

// SetSpatial records a geographic (lon/lat) bound, the zoom range and a
// center at the middle zoom.
func (m *MbtilesMetadata) SetSpatial(bound orb.Bound, minZoom maptile.Zoom, maxZoom maptile.Zoom) {
	center := bound.Center()

	m.Set("bounds", fmt.Sprintf("%s,%s,%s,%s",
		formatCoord(bound.Min.Lon()), formatCoord(bound.Min.Lat()),
		formatCoord(bound.Max.Lon()), formatCoord(bound.Max.Lat())))
	m.Set("center", fmt.Sprintf("%s,%s,%d",
		formatCoord(center.Lon()), formatCoord(center.Lat()), (minZoom+maxZoom)/2))
	m.Set("minzoom", strconv.Itoa(int(minZoom)))
	m.Set("maxzoom", strconv.Itoa(int(maxZoom)))
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (m *MbtilesMetadata) Get(k string) (string, bool) {
	v, exists := m.metadata[k]
	return v, exists
}

// Keys returns the metadata names in sorted order.
func (m *MbtilesMetadata) Keys() []string {
	keys := make([]string, 0, len(m.metadata))

	for k := range m.metadata {
		keys = append(keys, k)
	}

	sort.Strings(keys)
	return keys
}

func parseFloats(s string, n int, names ...string) ([]float64, error) {
	parts := strings.Split(s, ",")

	if len(parts) != n {
		return nil, fmt.Errorf("Expected %d values, got %d", n, len(parts))
	}

	values := make([]float64, n)
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("Failed to parse %s, %w", names[i], err)
		}
		values[i] = v
	}

	return values, nil
}

func (m *MbtilesMetadata) Bounds() (orb.Bound, error) {
	var bounds orb.Bound

	str_bounds, exists := m.Get("bounds")

	if !exists {
		return bounds, fmt.Errorf("Metadata is missing bounds")
	}

	v, err := parseFloats(str_bounds, 4, "minx", "miny", "maxx", "maxy")

	if err != nil {
		return bounds, fmt.Errorf("Invalid bounds metadata, %w", err)
	}

	bounds = orb.Bound{
		Min: orb.Point{v[0], v[1]},
		Max: orb.Point{v[2], v[3]},
	}

	return bounds, nil
}

// Center parses "lon,lat" or "lon,lat,zoom". A missing zoom is the
// midpoint of minzoom and maxzoom when those are present.
func (m *MbtilesMetadata) Center() (orb.Point, maptile.Zoom, error) {
	var pt orb.Point

	str_center, exists := m.Get("center")

	if !exists {
		return pt, 0, fmt.Errorf("Metadata is missing center")
	}

	parts := strings.Split(str_center, ",")

	if len(parts) != 2 && len(parts) != 3 {
		return pt, 0, fmt.Errorf("Invalid center metadata")
	}

	v, err := parseFloats(strings.Join(parts[:2], ","), 2, "x", "y")

	if err != nil {
		return pt, 0, fmt.Errorf("Invalid center metadata, %w", err)
	}

	pt = orb.Point{v[0], v[1]}

	if len(parts) == 3 {
		z, err := strconv.Atoi(strings.TrimSpace(parts[2]))

		if err != nil || z < 0 {
			return pt, 0, fmt.Errorf("Failed to parse center zoom %q", parts[2])
		}

		return pt, maptile.Zoom(z), nil
	}

	minZoom, err := m.MinZoom()
	if err != nil {
		return pt, 0, nil
	}

	maxZoom, err := m.MaxZoom()
	if err != nil {
		return pt, minZoom, nil
	}

	return pt, (minZoom + maxZoom) / 2, nil
}

func (m *MbtilesMetadata) zoom(key string) (maptile.Zoom, error) {
	str_zoom, exists := m.Get(key)

	if !exists {
		return 0, fmt.Errorf("Metadata is missing %s", key)
	}

	i, err := strconv.Atoi(strings.TrimSpace(str_zoom))

	if err != nil {
		return 0, fmt.Errorf("Failed to parse %s value, %w", key, err)
	}

	if i < 0 || i > int(MaxZoom) {
		return 0, fmt.Errorf("Invalid %s value %d", key, i)
	}

	return maptile.Zoom(i), nil
}

func (m *MbtilesMetadata) MinZoom() (maptile.Zoom, error) {
	return m.zoom("minzoom")
}

func (m *MbtilesMetadata) MaxZoom() (maptile.Zoom, error) {
	return m.zoom("maxzoom")
}

func (m *MbtilesMetadata) Set(key string, value string) {
	m.metadata[key] = value
}

// Format returns the tile format, or an error when it is missing or not a
// raster format.
func (m *MbtilesMetadata) Format() (Format, error) {
	v, exists := m.Get("format")

	if !exists {
		return "", fmt.Errorf("Metadata is missing format")
	}

	return ParseFormat(v)
}

func (m *MbtilesMetadata) Name() (string, error) {
	return m.metadata["name"], nil
}
