package roi

// Package roi parses regions of interest out of request arguments.
// Regions are WKT polygons, for example "POLYGON((0.1 0.1, 0.9 0.1, 0.9 0.9, 0.1 0.9))".
// Coordinates are either normalized to [0,1] or absolute pixels.

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/cyclopcam/evsdk/pkg/nn"
	"github.com/cyclopcam/logs"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

var ErrNotPolygon = errors.New("ROI is not a WKT polygon")
var ErrEmpty = errors.New("ROI polygon has no points")

// Polygon is a closed outline in absolute pixel coordinates of one particular image
type Polygon []nn.Point

// Bounds returns the smallest rectangle that contains every point
func (p Polygon) Bounds() nn.Rect {
	if len(p) == 0 {
		return nn.Rect{}
	}
	x1, y1 := p[0].X, p[0].Y
	x2, y2 := x1, y1
	for _, pt := range p[1:] {
		x1 = min(x1, pt.X)
		y1 = min(y1, pt.Y)
		x2 = max(x2, pt.X)
		y2 = max(y2, pt.Y)
	}
	return nn.RectFromCorners(x1, y1, x2, y2)
}

// Ring returns the polygon as a closed orb ring, for use with orb's planar functions
func (p Polygon) Ring() orb.Ring {
	ring := make(orb.Ring, 0, len(p)+1)
	for _, pt := range p {
		ring = append(ring, orb.Point{float64(pt.X), float64(pt.Y)})
	}
	if len(p) != 0 && p[0] != p[len(p)-1] {
		ring = append(ring, ring[0])
	}
	return ring
}

// ParsePolygon parses a WKT POLYGON and converts its outer ring into pixel coordinates
// of an image of the given size. Holes are ignored.
// If every coordinate is inside [0,1], the coordinates are treated as normalized, and are
// scaled by width and height. Otherwise they are taken to be pixels.
// Points are clamped to the image.
func ParsePolygon(text string, width, height int) (Polygon, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(strings.ToUpper(text), "POLYGON") {
		return nil, ErrNotPolygon
	}
	poly, err := wkt.UnmarshalPolygon(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotPolygon, err)
	}
	if len(poly) == 0 || len(poly[0]) == 0 {
		return nil, ErrEmpty
	}
	outer := poly[0]

	normalized := true
	for _, pt := range outer {
		if pt[0] < 0 || pt[0] > 1 || pt[1] < 0 || pt[1] > 1 {
			normalized = false
			break
		}
	}
	scaleX, scaleY := 1.0, 1.0
	if normalized {
		scaleX = float64(width)
		scaleY = float64(height)
	}

	out := make(Polygon, 0, len(outer))
	for _, pt := range outer {
		out = append(out, nn.Point{
			X: clamp(int(math.Round(pt[0]*scaleX)), 0, width-1),
			Y: clamp(int(math.Round(pt[1]*scaleY)), 0, height-1),
		})
	}
	// WKT rings repeat the first point at the end. We draw closed outlines, so drop it.
	if len(out) > 1 && out[0] == out[len(out)-1] {
		out = out[:len(out)-1]
	}
	return out, nil
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	return max(lo, min(v, hi))
}

// ParseArgs extracts the ROI polygons from the request arguments, eg {"roi": ["POLYGON((...))", ...]}.
// Entries that are not strings, or that fail to parse, are skipped. The result is empty
// if args are empty, or contain no ROI.
func ParseArgs(log logs.Log, args string, width, height int) []Polygon {
	if strings.TrimSpace(args) == "" {
		return nil
	}
	log.Infof("input args: %v", args)

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(args), &top); err != nil {
		log.Warnf("Invalid args JSON: %v", err)
		return nil
	}
	rawROI, ok := top["roi"]
	if !ok {
		return nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(rawROI, &entries); err != nil {
		log.Warnf("Ignoring roi: expected an array, got %v", string(rawROI))
		return nil
	}

	polygons := []Polygon{}
	for i, entry := range entries {
		var text string
		if len(entry) == 0 || entry[0] != '"' || json.Unmarshal(entry, &text) != nil {
			continue
		}
		poly, err := ParsePolygon(text, width, height)
		if err != nil {
			log.Warnf("Skipping roi[%v] '%v': %v", i, text, err)
			continue
		}
		log.Infof("Found roi=%v, parsed points: %v", text, poly)
		polygons = append(polygons, poly)
	}
	return polygons
}
