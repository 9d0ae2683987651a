// Package spatial holds the great-circle helpers and the uniform grid used
// to find nearby points without scanning every pair.
package spatial

import (
	"math"
	"sort"

	"github.com/nitesh/incident_map/pkg/models"
)

const (
	// EarthRadiusKm is the mean Earth radius used for haversine distances.
	EarthRadiusKm = 6371.0
	// kmPerDegree is the length of one degree of latitude.
	kmPerDegree = math.Pi * EarthRadiusKm / 180

	minCellKm = 0.05
)

// HaversineKm returns the great-circle distance between two points.
func HaversineKm(a, b models.Coordinate) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(b.Latitude - a.Latitude)
	dLon := toRad(b.Longitude - a.Longitude)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Latitude))*math.Cos(toRad(b.Latitude))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

type cellKey struct {
	x, y int
}

// Index is a uniform lat/lon grid over a fixed set of points. It is built
// once per pass and never mutated.
type Index struct {
	points     []models.Coordinate
	degX, degY float64
	nx, ny     int
	cells      map[cellKey][]int
}

// Build indexes points with cells at least cellKm on a side at the equator.
// Queries with a radius up to cellKm touch a 3x3 block of cells at low
// latitudes; larger radii and polar queries widen the block.
func Build(points []models.Coordinate, cellKm float64) *Index {
	if !(cellKm > minCellKm) || math.IsInf(cellKm, 0) {
		cellKm = minCellKm
	}
	cellDeg := math.Min(cellKm/kmPerDegree, 180)
	// Whole numbers of cells around the globe keep the antimeridian seam
	// the same width as every other column.
	nx := max(int(math.Floor(360/cellDeg)), 1)
	ny := max(int(math.Floor(180/cellDeg)), 1)
	idx := &Index{
		points: points,
		degX:   360 / float64(nx),
		degY:   180 / float64(ny),
		nx:     nx,
		ny:     ny,
		cells:  make(map[cellKey][]int),
	}
	for i, p := range points {
		k := idx.key(p)
		idx.cells[k] = append(idx.cells[k], i)
	}
	return idx
}

// Len is the number of indexed points.
func (idx *Index) Len() int {
	return len(idx.points)
}

// Point returns the i-th indexed point.
func (idx *Index) Point(i int) models.Coordinate {
	return idx.points[i]
}

func (idx *Index) key(p models.Coordinate) cellKey {
	x := int(math.Floor((p.Longitude + 180) / idx.degX))
	y := int(math.Floor((p.Latitude + 90) / idx.degY))
	// lon 180 and lat 90 sit on the far edge
	return cellKey{x: min(max(x, 0), idx.nx-1), y: min(max(y, 0), idx.ny-1)}
}

// Query returns the indices of all points within radiusKm (great-circle) of
// center, in ascending index order. A negative radius matches nothing; a
// zero radius matches points at exactly the same position.
func (idx *Index) Query(center models.Coordinate, radiusKm float64) []int {
	if radiusKm < 0 || math.IsNaN(radiusKm) || len(idx.points) == 0 {
		return nil
	}
	c := idx.key(center)

	// Bounding box of the spherical cap around center.
	angular := radiusKm / EarthRadiusKm
	dLat := angular * 180 / math.Pi
	spanY := int(math.Ceil(dLat / idx.degY))
	y0, y1 := max(c.y-spanY, 0), min(c.y+spanY, idx.ny-1)

	allX := false
	spanX := 0
	if math.Abs(center.Latitude)+dLat >= 90 || angular >= math.Pi/2 {
		allX = true
	} else {
		s := math.Sin(angular) / math.Cos(center.Latitude*math.Pi/180)
		if s >= 1 {
			allX = true
		} else {
			dLon := math.Asin(s) * 180 / math.Pi
			spanX = int(math.Ceil(dLon / idx.degX))
			allX = 2*spanX+1 >= idx.nx
		}
	}

	var out []int
	collect := func(members []int) {
		for _, i := range members {
			if HaversineKm(center, idx.points[i]) <= radiusKm {
				out = append(out, i)
			}
		}
	}
	if allX {
		for k, members := range idx.cells {
			if k.y >= y0 && k.y <= y1 {
				collect(members)
			}
		}
	} else {
		for y := y0; y <= y1; y++ {
			for dx := -spanX; dx <= spanX; dx++ {
				// wrap across the antimeridian
				x := ((c.x+dx)%idx.nx + idx.nx) % idx.nx
				collect(idx.cells[cellKey{x: x, y: y}])
			}
		}
	}
	sort.Ints(out)
	return out
}
