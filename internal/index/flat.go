package index

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	ErrInvalidK          = errors.New("k must be >= 1")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Hit is one search result: a position in the index and its inner product with the query
type Hit struct {
	Position int
	Score    float32
}

// Flat is an exact inner-product index. Vectors are stored row-major in
// insertion order, so position i is the i-th added vector.
type Flat struct {
	dim  int
	data []float32
}

func NewFlat(dim int) *Flat {
	return &Flat{dim: dim}
}

func (f *Flat) Dimension() int { return f.dim }

func (f *Flat) Len() int {
	if f.dim == 0 {
		return 0
	}
	return len(f.data) / f.dim
}

// Add appends vectors as-is. Callers normalize first when they want cosine scores.
func (f *Flat) Add(vectors ...[]float32) error {
	for i, v := range vectors {
		if len(v) != f.dim {
			return fmt.Errorf("%w: vector %d has %d values, index has %d",
				ErrDimensionMismatch, f.Len()+i, len(v), f.dim)
		}
	}
	for _, v := range vectors {
		f.data = append(f.data, v...)
	}
	return nil
}

// Vector returns the stored vector at position i
func (f *Flat) Vector(i int) []float32 {
	return f.data[i*f.dim : (i+1)*f.dim]
}

// Search scores every vector against q and returns the best min(k, Len) hits,
// highest score first. Equal scores keep position order.
func (f *Flat) Search(q []float32, k int) ([]Hit, error) {
	if k < 1 {
		return nil, ErrInvalidK
	}
	if len(q) != f.dim {
		return nil, fmt.Errorf("%w: query has %d values, index has %d", ErrDimensionMismatch, len(q), f.dim)
	}

	n := f.Len()
	hits := make([]Hit, n)
	for i := 0; i < n; i++ {
		hits[i] = Hit{Position: i, Score: Dot(q, f.Vector(i))}
	}
	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].Score > hits[b].Score
	})
	return hits[:min(k, n)], nil
}

// Dot accumulates in float64 so scores are reproducible across vector lengths
func Dot(a, b []float32) float32 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}

func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize scales v to unit length in place. A zero vector is left untouched
// and false is returned.
func Normalize(v []float32) bool {
	n := Norm(v)
	if n == 0 {
		return false
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / n)
	}
	return true
}
