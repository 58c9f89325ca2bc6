// Package sampler builds the evaluation tasks of a meta-test run: every
// (scene, exposure) pair for single-shot scoring, and one random support/query
// split per scene for adapted scoring.
package sampler

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"

	"metahdr/internal/model"
)

// QuerySize is the number of held-out exposures per adaptive task.
const QuerySize = 1

// SingleShot enumerates one task per (scene, exposure) pair, scenes in order
// and exposures ascending. Support sets are empty.
func SingleShot(numScenes, numExposures int) ([]model.Task, error) {
	if err := validate(numScenes, numExposures); err != nil {
		return nil, err
	}
	tasks := make([]model.Task, 0, numScenes*numExposures)
	for scene := 0; scene < numScenes; scene++ {
		for exposure := 1; exposure <= numExposures; exposure++ {
			tasks = append(tasks, model.Task{Scene: scene, Query: []int{exposure}})
		}
	}
	return tasks, nil
}

// Sampler draws adaptive support/query splits from a seeded source.
type Sampler struct {
	numExposures int
	seed         int64
	rng          *rand.Rand
}

func New(numExposures int, seed int64) (*Sampler, error) {
	if numExposures < 2 {
		return nil, fmt.Errorf("%w: num exposures must be >= 2 to keep a support set, got %d", model.ErrConfig, numExposures)
	}
	return &Sampler{numExposures: numExposures, seed: seed, rng: rand.New(rand.NewSource(seed))}, nil
}

// Fork returns an independent sampler for a named stream. Its draws depend
// only on the parent seed and the name, never on what the parent or other
// forks have drawn.
func (s *Sampler) Fork(stream string) *Sampler {
	h := fnv.New64a()
	_, _ = h.Write([]byte(stream))
	seed := s.seed ^ int64(h.Sum64())
	return &Sampler{numExposures: s.numExposures, seed: seed, rng: rand.New(rand.NewSource(seed))}
}

func (s *Sampler) NumExposures() int {
	return s.numExposures
}

// Split partitions exposures 1..K uniformly at random into a support set of
// K-1 exposures and a query set of one.
func (s *Sampler) Split(scene int) model.Task {
	perm := s.rng.Perm(s.numExposures)
	support := make([]int, 0, s.numExposures-QuerySize)
	query := make([]int, 0, QuerySize)
	for i, p := range perm {
		if i < QuerySize {
			query = append(query, p+1)
			continue
		}
		support = append(support, p+1)
	}
	sort.Ints(support)
	return model.Task{Scene: scene, Support: support, Query: query}
}

// Adaptive draws one independent split per scene, in scene order.
func (s *Sampler) Adaptive(numScenes int) ([]model.Task, error) {
	if err := validate(numScenes, s.numExposures); err != nil {
		return nil, err
	}
	tasks := make([]model.Task, numScenes)
	for scene := range tasks {
		tasks[scene] = s.Split(scene)
	}
	return tasks, nil
}

func validate(numScenes, numExposures int) error {
	if numScenes < 0 {
		return fmt.Errorf("%w: negative scene count %d", model.ErrConfig, numScenes)
	}
	if numExposures < 2 {
		return fmt.Errorf("%w: num exposures must be >= 2, got %d", model.ErrConfig, numExposures)
	}
	return nil
}
