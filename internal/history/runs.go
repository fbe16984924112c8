// Package history persists update run records so past outcomes survive
// process restarts and can be listed over the control API.
package history

import (
	"context"

	"github.com/tinwren/launchpit/internal/data"
)

type RunRepo interface {
	RunReader
	RunWriter
}

type RunReader interface {
	List(ctx context.Context) (data.Runs, error)
	Get(ctx context.Context, id string) (*data.Run, error)
}

type RunWriter interface {
	Add(ctx context.Context, run *data.Run) (*data.Run, error)
	Update(ctx context.Context, id string, mutate func(*data.Run) error) (*data.Run, error)
}
