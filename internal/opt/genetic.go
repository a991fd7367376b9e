package opt

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Genetic evolves a population of tours seeded with the greedy tour.
type Genetic struct {
	Params  GeneticParams
	Workers int
}

type individual struct {
	order   []int
	fitness float64
}

func (g Genetic) Solve(ctx context.Context, m Matrix, rng Rand) Tour {
	p := Params{Genetic: g.Params, Workers: g.Workers}.withDefaults()
	gp := p.Genetic
	n := m.Size()
	seed := nearestNeighbor(m)
	if n <= 2 {
		return m.tour(seed, 0)
	}

	pop := make([]individual, gp.Population)
	pop[0].order = seed
	for i := 1; i < len(pop); i++ {
		pop[i].order = randomTour(n, rng)
	}
	evaluate(m, pop, p.Workers)
	rank(pop)
	best := individual{order: append([]int(nil), pop[0].order...), fitness: pop[0].fitness}

	elites := int(float64(gp.Population) * gp.EliteFraction)
	if elites < 1 {
		elites = 1
	}
	gen := 0
	for gen < gp.Generations {
		if ctx.Err() != nil {
			break
		}
		next := make([]individual, 0, len(pop))
		for i := 0; i < elites && i < len(pop); i++ {
			next = append(next, individual{order: append([]int(nil), pop[i].order...)})
		}
		for len(next) < len(pop) {
			a := tournament(pop, gp.TournamentSize, rng)
			b := tournament(pop, gp.TournamentSize, rng)
			child := orderCrossover(a.order, b.order, rng)
			mutate(child, gp.MutationRate, rng)
			next = append(next, individual{order: child})
		}
		evaluate(m, next, p.Workers)
		rank(next)
		pop = next
		gen++
		if pop[0].fitness < best.fitness-improveEps {
			best = individual{order: append([]int(nil), pop[0].order...), fitness: pop[0].fitness}
		}
	}
	return Tour{Order: best.order, Length: best.fitness, Iterations: gen}
}

// evaluate computes fitness in parallel. Each goroutine writes only its own
// slot so the result does not depend on scheduling.
func evaluate(m Matrix, pop []individual, workers int) {
	var g errgroup.Group
	g.SetLimit(workers)
	for i := range pop {
		g.Go(func() error {
			pop[i].fitness = m.PathLength(pop[i].order)
			return nil
		})
	}
	_ = g.Wait()
}

func rank(pop []individual) {
	sort.SliceStable(pop, func(i, j int) bool { return pop[i].fitness < pop[j].fitness })
}

func randomTour(n int, rng Rand) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	for i := n - 1; i > 1; i-- {
		j := 1 + rng.Intn(i)
		order[i], order[j] = order[j], order[i]
	}
	return order
}

func tournament(pop []individual, size int, rng Rand) individual {
	best := pop[rng.Intn(len(pop))]
	for i := 1; i < size; i++ {
		c := pop[rng.Intn(len(pop))]
		if c.fitness < best.fitness {
			best = c
		}
	}
	return best
}

// orderCrossover copies a random slice of a into the child and fills the
// remaining positions with b's genes in b's order. Position 0 stays 0.
func orderCrossover(a, b []int, rng Rand) []int {
	n := len(a)
	child := make([]int, n)
	for i := range child {
		child[i] = -1
	}
	child[0] = a[0]
	start := 1 + rng.Intn(n-1)
	end := 1 + rng.Intn(n-1)
	if start > end {
		start, end = end, start
	}
	used := make([]bool, n)
	used[a[0]] = true
	for i := start; i <= end; i++ {
		child[i] = a[i]
		used[a[i]] = true
	}
	pos := 1
	for _, gene := range b[1:] {
		if used[gene] {
			continue
		}
		for child[pos] != -1 {
			pos++
		}
		child[pos] = gene
		used[gene] = true
	}
	return child
}

func mutate(order []int, rate float64, rng Rand) {
	n := len(order)
	for i := 1; i < n; i++ {
		if rng.Float64() < rate {
			j := 1 + rng.Intn(n-1)
			order[i], order[j] = order[j], order[i]
		}
	}
}
