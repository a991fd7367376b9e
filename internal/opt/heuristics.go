package opt

import "context"

// Greedy is nearest-neighbour construction from index 0. Ties go to the
// lowest index.
type Greedy struct{}

func (Greedy) Solve(_ context.Context, m Matrix, _ Rand) Tour {
	return m.tour(nearestNeighbor(m), 1)
}

func nearestNeighbor(m Matrix) []int {
	n := m.Size()
	if n == 0 {
		return []int{}
	}
	order := make([]int, 0, n)
	visited := make([]bool, n)
	cur := 0
	order = append(order, cur)
	visited[cur] = true
	for len(order) < n {
		next := -1
		best := 0.0
		for j := 1; j < n; j++ {
			if visited[j] {
				continue
			}
			if d := m.At(cur, j); next == -1 || d < best {
				next, best = j, d
			}
		}
		visited[next] = true
		order = append(order, next)
		cur = next
	}
	return order
}

// TwoOpt improves the greedy tour by reversing segments of at least three
// stops, taking the first improving move and rescanning, for at most
// MaxPasses improvements.
type TwoOpt struct {
	MaxPasses int
}

const improveEps = 1e-9

func (t TwoOpt) Solve(ctx context.Context, m Matrix, _ Rand) Tour {
	order := nearestNeighbor(m)
	passes := t.MaxPasses
	if passes <= 0 {
		passes = DefaultParams().TwoOptMaxPasses
	}
	best, it := ImproveOrder2Opt(ctx, m, order, passes)
	return m.tour(best, it)
}

// ImproveOrder2Opt applies first-improvement 2-opt on an open path that keeps
// order[0] fixed. It never returns a longer path than it was given.
func ImproveOrder2Opt(ctx context.Context, m Matrix, order []int, maxPasses int) ([]int, int) {
	best := append([]int(nil), order...)
	n := len(best)
	it := 0
	for it < maxPasses {
		if ctx.Err() != nil {
			break
		}
		improved := false
	scan:
		for i := 1; i < n-2; i++ {
			for k := i + 2; k < n; k++ {
				if reversalDelta(m, best, i, k) < -improveEps {
					best = twoOptSwap(best, i, k)
					improved = true
					break scan
				}
			}
		}
		if !improved {
			break
		}
		it++
	}
	return best, it
}

// reversalDelta is the length change from reversing ord[i..k]. The interior
// legs are unchanged because the matrix is symmetric.
func reversalDelta(m Matrix, ord []int, i, k int) float64 {
	before := m.At(ord[i-1], ord[i])
	after := m.At(ord[i-1], ord[k])
	if k+1 < len(ord) {
		before += m.At(ord[k], ord[k+1])
		after += m.At(ord[i], ord[k+1])
	}
	return after - before
}

func twoOptSwap(ord []int, i, k int) []int {
	out := make([]int, len(ord))
	copy(out, ord[:i])
	// reverse i..k
	pos := i
	for j := k; j >= i; j-- {
		out[pos] = ord[j]
		pos++
	}
	copy(out[pos:], ord[k+1:])
	return out
}
