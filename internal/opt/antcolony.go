package opt

import (
	"context"
	"math"
	"math/rand"

	"golang.org/x/sync/errgroup"
)

// minLeg floors distances so coincident cells still get a finite visibility.
const minLeg = 1e-6

// AntColony is ant colony optimisation with a fresh pheromone matrix per call.
type AntColony struct {
	Params  AntColonyParams
	Workers int
}

func (a AntColony) Solve(ctx context.Context, m Matrix, rng Rand) Tour {
	p := Params{AntColony: a.Params, Workers: a.Workers}.withDefaults()
	ap := p.AntColony
	n := m.Size()
	if n <= 2 {
		return m.tour(nearestNeighbor(m), 0)
	}

	tau := make([]float64, n*n)
	for i := range tau {
		tau[i] = ap.InitialPheromone
	}
	eta := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				eta[i*n+j] = math.Pow(1/math.Max(m.At(i, j), minLeg), ap.Beta)
			}
		}
	}

	var bestOrder []int
	bestLen := math.Inf(1)
	tours := make([][]int, ap.Ants)
	lengths := make([]float64, ap.Ants)
	seeds := make([]int64, ap.Ants)
	it := 0
	for it < ap.Iterations {
		if ctx.Err() != nil {
			break
		}
		// seeds are drawn in ant order so the colony is reproducible
		// regardless of how the goroutines are scheduled
		for k := range seeds {
			seeds[k] = rng.Int63()
		}
		var g errgroup.Group
		g.SetLimit(p.Workers)
		for k := 0; k < ap.Ants; k++ {
			g.Go(func() error {
				local := rand.New(rand.NewSource(seeds[k]))
				tours[k] = buildAntTour(n, tau, eta, ap.Alpha, local)
				lengths[k] = m.PathLength(tours[k])
				return nil
			})
		}
		_ = g.Wait()

		for k := range tours {
			if lengths[k] < bestLen {
				bestLen = lengths[k]
				bestOrder = append([]int(nil), tours[k]...)
			}
		}
		for i := range tau {
			tau[i] *= 1 - ap.Evaporation
		}
		for k, tour := range tours {
			if lengths[k] <= 0 {
				continue
			}
			dep := 1 / lengths[k]
			for i := 0; i+1 < len(tour); i++ {
				x, y := tour[i], tour[i+1]
				tau[x*n+y] += dep
				tau[y*n+x] += dep
			}
		}
		it++
	}
	if bestOrder == nil {
		return m.tour(nearestNeighbor(m), it)
	}
	return Tour{Order: bestOrder, Length: bestLen, Iterations: it}
}

// buildAntTour walks from 0, choosing each next stop by roulette over
// tau^alpha * eta among unvisited stops in ascending index order.
func buildAntTour(n int, tau, eta []float64, alpha float64, rng Rand) []int {
	order := make([]int, 1, n)
	visited := make([]bool, n)
	visited[0] = true
	weights := make([]float64, n)
	cur := 0
	for len(order) < n {
		total := 0.0
		last := -1
		for j := 0; j < n; j++ {
			weights[j] = 0
			if visited[j] {
				continue
			}
			w := math.Pow(tau[cur*n+j], alpha) * eta[cur*n+j]
			if math.IsNaN(w) || math.IsInf(w, 0) {
				w = 0
			}
			weights[j] = w
			total += w
			last = j
		}
		next := last
		if total > 0 {
			r := rng.Float64() * total
			acc := 0.0
			for j := 0; j < n; j++ {
				if visited[j] {
					continue
				}
				acc += weights[j]
				if r < acc {
					next = j
					break
				}
			}
		}
		visited[next] = true
		order = append(order, next)
		cur = next
	}
	return order
}
