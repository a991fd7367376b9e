package opt

import "fmt"

// Matrix is a symmetric distance matrix. Index 0 is the start location.
type Matrix struct {
	n int
	d []float64
}

// BuildMatrix fills an n×n matrix from dist, calling it once per unordered pair.
func BuildMatrix(n int, dist func(i, j int) (float64, error)) (Matrix, error) {
	if n < 0 {
		n = 0
	}
	m := Matrix{n: n, d: make([]float64, n*n)}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v, err := dist(i, j)
			if err != nil {
				return Matrix{}, fmt.Errorf("distance %d->%d: %w", i, j, err)
			}
			m.d[i*n+j] = v
			m.d[j*n+i] = v
		}
	}
	return m, nil
}

// MatrixFromRows copies rows into a Matrix. Rows are expected to be square
// and symmetric.
func MatrixFromRows(rows [][]float64) Matrix {
	n := len(rows)
	m := Matrix{n: n, d: make([]float64, n*n)}
	for i, r := range rows {
		copy(m.d[i*n:(i+1)*n], r)
	}
	return m
}

func (m Matrix) Size() int { return m.n }

func (m Matrix) At(i, j int) float64 { return m.d[i*m.n+j] }

// PathLength sums consecutive legs of order. The path is open.
func (m Matrix) PathLength(order []int) float64 {
	total := 0.0
	for i := 0; i+1 < len(order); i++ {
		total += m.At(order[i], order[i+1])
	}
	return total
}

func (m Matrix) tour(order []int, iterations int) Tour {
	return Tour{Order: order, Length: m.PathLength(order), Iterations: iterations}
}
