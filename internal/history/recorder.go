package history

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tinwren/launchpit/internal/data"
	"github.com/tinwren/launchpit/internal/updater"
)

// Recorder consumes updater events and keeps the run repository current:
// a row appears on the first event of a run, follows its stage and version,
// and is stamped with an end time at the terminal stage.
type Recorder struct {
	repo   RunRepo
	events <-chan updater.Event
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(log *slog.Logger, repo RunRepo, events <-chan updater.Event) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{repo: repo, events: events, log: log, ctx: context.Background()}
}

// Run starts the recording loop.
func (r *Recorder) Run() {
	r.stop = make(chan struct{})
	r.ctx, r.cancel = context.WithCancel(r.ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.stop:
				return
			case e, ok := <-r.events:
				if !ok {
					return
				}
				r.handle(e)
			}
		}
	}()
}

// Stop terminates the recording loop.
func (r *Recorder) Stop() {
	if r.stop != nil {
		close(r.stop)
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()
	}
}

func (r *Recorder) handle(e updater.Event) {
	if e.Type != updater.EventStage {
		return
	}
	if err := r.ensure(e); err != nil {
		r.log.Error("record run", "run_id", e.RunID, "err", err)
		return
	}
	_, err := r.repo.Update(r.ctx, e.RunID, func(run *data.Run) error {
		run.Stage = e.Stage
		if e.Version != "" {
			run.Version = e.Version
		}
		if e.Stage.Terminal() && run.EndedAt.IsZero() {
			run.EndedAt = time.Now().UTC()
		}
		return nil
	})
	if err != nil {
		r.log.Error("update run", "run_id", e.RunID, "stage", e.Stage, "err", err)
		return
	}
	if e.Stage.Terminal() {
		r.log.Info("run recorded", "run_id", e.RunID, "outcome", e.Stage)
	}
}

func (r *Recorder) ensure(e updater.Event) error {
	_, err := r.repo.Get(r.ctx, e.RunID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, data.ErrNotFound) {
		return err
	}
	_, err = r.repo.Add(r.ctx, &data.Run{
		ID:        e.RunID,
		GameTitle: e.Game,
		Stage:     e.Stage,
		StartedAt: time.Now().UTC(),
	})
	if errors.Is(err, data.ErrConflict) {
		return nil
	}
	return err
}
