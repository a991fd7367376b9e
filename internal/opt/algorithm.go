// Package opt orders delivery stops with one of four open-path TSP heuristics.
package opt

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"strings"
	"time"
)

type Algorithm string

const (
	AlgorithmGreedy    Algorithm = "greedy"
	AlgorithmTwoOpt    Algorithm = "2-opt"
	AlgorithmGenetic   Algorithm = "genetic"
	AlgorithmAntColony Algorithm = "ant_colony"
)

// Algorithms lists the supported tags in a stable order.
var Algorithms = []Algorithm{AlgorithmGreedy, AlgorithmTwoOpt, AlgorithmGenetic, AlgorithmAntColony}

var ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")

// ParseAlgorithm maps a request tag to an Algorithm. The empty tag is greedy.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "greedy":
		return AlgorithmGreedy, nil
	case "2-opt", "2opt", "two_opt":
		return AlgorithmTwoOpt, nil
	case "genetic":
		return AlgorithmGenetic, nil
	case "ant_colony", "ant-colony", "aco":
		return AlgorithmAntColony, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, s)
	}
}

// Rand is the randomness the stochastic strategies draw from.
// *math/rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
	Float64() float64
	Int63() int64
}

// NewRand returns a seeded source. Seed 0 means seed from the wall clock.
func NewRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// Tour is a visiting order over matrix indices, starting at 0.
type Tour struct {
	Order      []int
	Length     float64
	Iterations int
}

// Strategy produces a tour over m. Implementations must return a
// permutation of 0..m.Size()-1 with 0 first, or an empty order for an
// empty matrix.
type Strategy interface {
	Solve(ctx context.Context, m Matrix, rng Rand) Tour
}

type GeneticParams struct {
	Population     int     `yaml:"population" json:"population"`
	Generations    int     `yaml:"generations" json:"generations"`
	EliteFraction  float64 `yaml:"eliteFraction" json:"eliteFraction"`
	TournamentSize int     `yaml:"tournamentSize" json:"tournamentSize"`
	MutationRate   float64 `yaml:"mutationRate" json:"mutationRate"`
}

type AntColonyParams struct {
	Ants             int     `yaml:"ants" json:"ants"`
	Iterations       int     `yaml:"iterations" json:"iterations"`
	Evaporation      float64 `yaml:"evaporation" json:"evaporation"`
	Alpha            float64 `yaml:"alpha" json:"alpha"`
	Beta             float64 `yaml:"beta" json:"beta"`
	InitialPheromone float64 `yaml:"initialPheromone" json:"initialPheromone"`
}

// Params tunes the strategies. Zero fields fall back to DefaultParams.
type Params struct {
	TwoOptMaxPasses int             `yaml:"twoOptMaxPasses" json:"twoOptMaxPasses"`
	Genetic         GeneticParams   `yaml:"genetic" json:"genetic"`
	AntColony       AntColonyParams `yaml:"antColony" json:"antColony"`
	// Workers bounds the goroutines used for fitness evaluation and ant
	// construction. 0 means GOMAXPROCS.
	Workers int `yaml:"workers" json:"workers"`
}

func DefaultParams() Params {
	return Params{
		TwoOptMaxPasses: 100,
		Genetic: GeneticParams{
			Population:     50,
			Generations:    100,
			EliteFraction:  0.1,
			TournamentSize: 3,
			MutationRate:   0.01,
		},
		AntColony: AntColonyParams{
			Ants:             30,
			Iterations:       50,
			Evaporation:      0.1,
			Alpha:            1,
			Beta:             2,
			InitialPheromone: 1,
		},
	}
}

// withDefaults fills zero fields from DefaultParams.
func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.TwoOptMaxPasses <= 0 {
		p.TwoOptMaxPasses = d.TwoOptMaxPasses
	}
	g := &p.Genetic
	if g.Population <= 1 {
		g.Population = d.Genetic.Population
	}
	if g.Generations <= 0 {
		g.Generations = d.Genetic.Generations
	}
	if g.EliteFraction <= 0 || g.EliteFraction >= 1 {
		g.EliteFraction = d.Genetic.EliteFraction
	}
	if g.TournamentSize <= 0 {
		g.TournamentSize = d.Genetic.TournamentSize
	}
	if g.MutationRate <= 0 || g.MutationRate > 1 {
		g.MutationRate = d.Genetic.MutationRate
	}
	a := &p.AntColony
	if a.Ants <= 0 {
		a.Ants = d.AntColony.Ants
	}
	if a.Iterations <= 0 {
		a.Iterations = d.AntColony.Iterations
	}
	if a.Evaporation <= 0 || a.Evaporation >= 1 {
		a.Evaporation = d.AntColony.Evaporation
	}
	if a.Alpha <= 0 {
		a.Alpha = d.AntColony.Alpha
	}
	if a.Beta <= 0 {
		a.Beta = d.AntColony.Beta
	}
	if a.InitialPheromone <= 0 {
		a.InitialPheromone = d.AntColony.InitialPheromone
	}
	if p.Workers <= 0 {
		p.Workers = runtime.GOMAXPROCS(0)
	}
	return p
}

// StrategyFor returns the implementation behind alg.
func StrategyFor(alg Algorithm, p Params) (Strategy, error) {
	p = p.withDefaults()
	switch alg {
	case AlgorithmGreedy:
		return Greedy{}, nil
	case AlgorithmTwoOpt:
		return TwoOpt{MaxPasses: p.TwoOptMaxPasses}, nil
	case AlgorithmGenetic:
		return Genetic{Params: p.Genetic, Workers: p.Workers}, nil
	case AlgorithmAntColony:
		return AntColony{Params: p.AntColony, Workers: p.Workers}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}
}
