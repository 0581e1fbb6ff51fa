package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// Reloader re-reads the knowledge tables on a fixed interval.
type Reloader struct {
	store     *Store
	interval  time.Duration
	scheduler *gocron.Scheduler
}

// NewReloader creates a reloader for store.
func NewReloader(store *Store, interval time.Duration) *Reloader {
	return &Reloader{
		store:     store,
		interval:  interval,
		scheduler: gocron.NewScheduler(time.Local),
	}
}

// Start schedules the periodic reload. The first run happens after one
// interval; the caller performs the initial Load.
func (r *Reloader) Start() error {
	if r.interval <= 0 {
		return fmt.Errorf("reload interval must be positive, got %s", r.interval)
	}

	_, err := r.scheduler.Every(r.interval).WaitForSchedule().SingletonMode().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.interval)
		defer cancel()
		if _, err := r.store.Load(ctx); err != nil {
			slog.Error("failed to reload knowledge tables", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule knowledge reload: %w", err)
	}

	r.scheduler.StartAsync()
	slog.Info("knowledge reloader started", "interval", r.interval.String())
	return nil
}

// Stop stops the scheduler.
func (r *Reloader) Stop() {
	r.scheduler.Stop()
}

// Jobs returns the number of scheduled jobs.
func (r *Reloader) Jobs() int {
	return len(r.scheduler.Jobs())
}
