// Package spatial wraps github.com/dhconnelly/rtreego behind the narrow
// contract spec.md §9 asks of any bulk spatial index: insert(id, rect)
// and intersection(rect) -> ids. No pack example repo ships a spatial
// index library, so this is an out-of-pack dependency chosen because it
// is the standard pure-Go R-tree for exactly this shape of problem.
package spatial

import (
	"github.com/dhconnelly/rtreego"

	"github.com/pioneerbio/labelcache/internal/geometry"
)

const (
	minChildren = 25
	maxChildren = 50
	dims        = 2
	// epsilon pads degenerate (zero-width/height) boxes — point labels and
	// perfectly vertical/horizontal boxes — since rtreego rejects
	// non-positive rectangle lengths, and widens queries so touching boxes
	// count. It is far below image-pixel resolution: only boxes within
	// about epsilon of a query's edge are affected.
	epsilon = 1e-6
)

// Index is a bulk spatial index over integer label positions.
type Index struct {
	tree *rtreego.Rtree
}

// entry adapts one (id, bbox) pair to rtreego.Spatial.
type entry struct {
	id   int
	rect *rtreego.Rect
}

func (e *entry) Bounds() *rtreego.Rect { return e.rect }

// New creates an empty spatial index.
func New() *Index {
	return &Index{tree: rtreego.NewTree(dims, minChildren, maxChildren)}
}

// Insert adds id with its bounding box to the index. Safe to call only
// during build; queries run concurrently with reads of an index that is
// no longer being mutated (spec.md §5).
func (x *Index) Insert(id int, bb geometry.BBox) error {
	rect, err := toRect(bb)
	if err != nil {
		return err
	}
	x.tree.Insert(&entry{id: id, rect: rect})
	return nil
}

// Intersection returns the ids of every inserted box intersecting bb,
// using closed intervals on both axes. rtreego counts rectangles that only
// share an edge as disjoint, so the query is widened by epsilon on every
// side to make edge- and corner-touching boxes intersect.
func (x *Index) Intersection(bb geometry.BBox) ([]int, error) {
	rect, err := toRect(geometry.BBox{
		MinX: bb.MinX - epsilon,
		MinY: bb.MinY - epsilon,
		MaxX: bb.MaxX + epsilon,
		MaxY: bb.MaxY + epsilon,
	})
	if err != nil {
		return nil, err
	}
	results := x.tree.SearchIntersect(rect)
	ids := make([]int, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.(*entry).id) //nolint:forcetypeassert // Index only ever inserts *entry
	}
	return ids, nil
}

func toRect(bb geometry.BBox) (*rtreego.Rect, error) {
	w := bb.MaxX - bb.MinX
	h := bb.MaxY - bb.MinY
	if w <= 0 {
		w = epsilon
	}
	if h <= 0 {
		h = epsilon
	}
	return rtreego.NewRect(rtreego.Point{bb.MinX, bb.MinY}, []float64{w, h})
}
