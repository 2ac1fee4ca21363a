package main

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opensource-finance/caretrust/internal/domain"
	"github.com/opensource-finance/caretrust/internal/pipeline"
	"github.com/opensource-finance/caretrust/internal/repository"
	"github.com/opensource-finance/caretrust/internal/scorecfg"
)

const offlineTenant = "offline"

// replayClock lets offline runs move time forward record by record so
// fraud checks see the history as it stood when each record arrived.
type replayClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *replayClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *replayClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// offlineRun is a pipeline over a throwaway in-memory store.
type offlineRun struct {
	svc   *pipeline.Service
	repo  domain.Repository
	clock *replayClock
}

func newOfflineRun(path string) (*offlineRun, error) {
	cfg, err := scorecfg.Load(path)
	if err != nil {
		return nil, err
	}
	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory store: %w", err)
	}
	clock := &replayClock{now: time.Now().UTC()}
	svc, err := pipeline.New(cfg, repo, pipeline.WithClock(clock.Now))
	if err != nil {
		repo.Close()
		return nil, err
	}
	return &offlineRun{svc: svc, repo: repo, clock: clock}, nil
}

func (r *offlineRun) Close() error {
	return r.repo.Close()
}

// Evidence is the offline input for one subject.
type Evidence struct {
	Profile     domain.CaregiverProfile   `json:"profile"`
	Activities  []*domain.ActivityRecord  `json:"activities"`
	Testimonies []*domain.TestimonyRecord `json:"testimonies"`
	AsOf        time.Time                 `json:"asOf"`
}

// load replays the evidence in arrival order and leaves the clock at AsOf.
func (r *offlineRun) load(ctx context.Context, ev *Evidence) error {
	subjectID := ev.Profile.SubjectID

	type event struct {
		at  time.Time
		run func() error
	}
	var events []event
	for _, a := range ev.Activities {
		a.SubjectID = subjectID
		events = append(events, event{at: a.PerformedAt, run: func() error {
			_, _, err := r.svc.LogActivity(ctx, offlineTenant, a)
			return err
		}})
	}
	for _, t := range ev.Testimonies {
		t.SubjectID = subjectID
		events = append(events, event{at: t.SubmittedAt, run: func() error {
			_, _, err := r.svc.SubmitTestimony(ctx, offlineTenant, t)
			return err
		}})
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].at.Before(events[j].at) })

	asOf := ev.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	joined := ev.Profile.JoinedAt
	if joined.IsZero() {
		joined = asOf
		if len(events) > 0 && !events[0].at.IsZero() && events[0].at.Before(asOf) {
			joined = events[0].at
		}
	}

	r.clock.Set(joined)
	if err := r.svc.SaveProfile(ctx, offlineTenant, &ev.Profile); err != nil {
		return err
	}
	for _, e := range events {
		if !e.at.IsZero() && e.at.After(joined) {
			r.clock.Set(e.at)
		}
		if err := e.run(); err != nil {
			return err
		}
	}
	r.clock.Set(asOf)
	return nil
}
