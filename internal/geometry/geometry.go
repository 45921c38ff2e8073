// Package geometry maps an annotation label record to its axis-aligned
// bounding box, if any, per the three shapes in spec.md §4.3: polygon
// (regions), point (position), and centre+size box. Ties in detection go
// to the earliest-listed shape; a label matching none keeps its place in
// the label sequence but is simply omitted from the spatial index.
package geometry

import "encoding/json"

// BBox is an axis-aligned bounding rectangle (minX, minY, maxX, maxY).
type BBox struct {
	MinX, MinY, MaxX, MaxY float64
}

// Point mirrors the {x, y} shape used by position/centre/size fields.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// shapeView is only used to sniff the three recognized geometry shapes;
// it is never the source of the output payload, which round-trips the
// original JSON bytes verbatim.
type shapeView struct {
	Regions  [][]Point `json:"regions,omitempty"`
	Position *Point    `json:"position,omitempty"`
	Centre   *Point    `json:"centre,omitempty"`
	Size     *Point    `json:"size,omitempty"`
}

// Extract computes the bounding box for one label's raw JSON bytes.
// Returns ok=false when the label exposes none of the three recognized
// shapes (or a polygon with no points); the label is kept by callers but
// omitted from the R-tree.
func Extract(raw []byte) (bbox BBox, ok bool) {
	var shape shapeView
	if err := json.Unmarshal(raw, &shape); err != nil {
		return BBox{}, false
	}
	return ExtractShape(shape.Regions, shape.Position, shape.Centre, shape.Size)
}

// ExtractShape applies the shape-detection rules directly to decoded
// fields, for callers that already hold a parsed label.
func ExtractShape(regions [][]Point, position, centre, size *Point) (BBox, bool) {
	if len(regions) > 0 {
		return polygonBBox(regions)
	}
	if position != nil {
		return BBox{position.X, position.Y, position.X, position.Y}, true
	}
	if centre != nil && size != nil {
		halfW, halfH := size.X/2, size.Y/2
		return BBox{
			MinX: centre.X - halfW,
			MinY: centre.Y - halfH,
			MaxX: centre.X + halfW,
			MaxY: centre.Y + halfH,
		}, true
	}
	return BBox{}, false
}

func polygonBBox(regions [][]Point) (BBox, bool) {
	first := true
	var bb BBox
	for _, ring := range regions {
		for _, p := range ring {
			if first {
				bb = BBox{p.X, p.Y, p.X, p.Y}
				first = false
				continue
			}
			if p.X < bb.MinX {
				bb.MinX = p.X
			}
			if p.Y < bb.MinY {
				bb.MinY = p.Y
			}
			if p.X > bb.MaxX {
				bb.MaxX = p.X
			}
			if p.Y > bb.MaxY {
				bb.MaxY = p.Y
			}
		}
	}
	if first {
		return BBox{}, false
	}
	return bb, true
}

// Intersects reports whether a and b overlap using closed intervals on
// both axes, per spec.md §8 invariant 7.
func Intersects(a, b BBox) bool {
	return a.MinX <= b.MaxX && a.MaxX >= b.MinX && a.MinY <= b.MaxY && a.MaxY >= b.MinY
}
