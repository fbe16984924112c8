package history

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/tinwren/launchpit/internal/data"
)

type InMemoryRunRepo struct {
	mu   sync.RWMutex
	runs data.Runs
}

func NewInMemoryRunRepo() *InMemoryRunRepo {
	return &InMemoryRunRepo{runs: make(data.Runs, 0)}
}

func (r *InMemoryRunRepo) List(ctx context.Context) (data.Runs, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runs.Clone(), nil
}

func (r *InMemoryRunRepo) Get(ctx context.Context, id string) (*data.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, err := r.findByID(id)
	if err != nil {
		return nil, err
	}
	return run.Clone(), nil
}

func (r *InMemoryRunRepo) Add(ctx context.Context, run *data.Run) (*data.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if _, err := r.findByID(run.ID); err == nil {
		return nil, data.ErrConflict
	}
	r.runs = append(r.runs, run.Clone())
	return run.Clone(), nil
}

func (r *InMemoryRunRepo) Update(ctx context.Context, id string, mutate func(*data.Run) error) (*data.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, err := r.findByID(id)
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		if err := mutate(run); err != nil {
			return nil, err
		}
	}
	return run.Clone(), nil
}

func (r *InMemoryRunRepo) findByID(id string) (*data.Run, error) {
	for _, run := range r.runs {
		if run.ID == id {
			return run, nil
		}
	}
	return nil, data.ErrNotFound
}
