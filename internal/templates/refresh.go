package templates

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Refresher periodically reloads the registry from its source.
type Refresher struct {
	reg     *Registry
	src     Source
	log     zerolog.Logger
	timeout time.Duration
	cron    *cron.Cron
}

// NewRefresher schedules reloads using a standard 5-field cron spec
// (or descriptors such as "@every 5m").
func NewRefresher(reg *Registry, src Source, schedule string, log zerolog.Logger) (*Refresher, error) {
	r := &Refresher{
		reg:     reg,
		src:     src,
		log:     log,
		timeout: 30 * time.Second,
		cron:    cron.New(),
	}
	if _, err := r.cron.AddFunc(schedule, r.reload); err != nil {
		return nil, fmt.Errorf("NewRefresher: invalid schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start begins the schedule in the background.
func (r *Refresher) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for a running reload to finish.
func (r *Refresher) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reload keeps the previous snapshot when the source fails.
func (r *Refresher) reload() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	tpls, err := r.src.ListTemplates(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("Template refresh failed, keeping previous snapshot")
		return
	}
	if err := r.reg.Replace(tpls); err != nil {
		r.log.Error().Err(err).Msg("Template refresh rejected")
		return
	}
	r.log.Debug().Int("templates", len(tpls)).Msg("Template registry refreshed")
}
