package annotate

import (
	flatbush "github.com/bmharper/flatbush-go"
	"github.com/cyclopcam/evsdk/pkg/nn"
	"github.com/cyclopcam/evsdk/pkg/roi"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// zoneIndex answers "is this point inside any of the ROI polygons".
// The spatial index on polygon bounds avoids testing every polygon for every object.
type zoneIndex struct {
	fb    *flatbush.Flatbush[int32]
	rings []orb.Ring
}

func newZoneIndex(polygons []roi.Polygon) *zoneIndex {
	z := &zoneIndex{
		fb:    flatbush.NewFlatbush[int32](),
		rings: make([]orb.Ring, 0, len(polygons)),
	}
	z.fb.Reserve(len(polygons))
	for _, p := range polygons {
		b := p.Bounds()
		z.fb.Add(int32(b.X), int32(b.Y), int32(b.X2()), int32(b.Y2()))
		z.rings = append(z.rings, p.Ring())
	}
	z.fb.Finish()
	return z
}

func (z *zoneIndex) Contains(pt nn.Point) bool {
	x, y := int32(pt.X), int32(pt.Y)
	for _, i := range z.fb.Search(x, y, x, y) {
		if planar.RingContains(z.rings[i], orb.Point{float64(pt.X), float64(pt.Y)}) {
			return true
		}
	}
	return false
}
