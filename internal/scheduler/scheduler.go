// Package scheduler triggers the periodic scan pass.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "formwatch/pkg/logx"
)

type Config struct {
	// Spec is a cron spec or @every expression, e.g. "@every 5m".
	Spec string

	// Timezone is an IANA location for cron evaluation. Empty means local.
	Timezone string
}

// Service runs one job on a cron cadence. Overlapping runs are allowed; the
// job itself must be safe under concurrent invocation.
type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	parser cron.Parser
	c      *cron.Cron

	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Start registers the job and begins the cron loop. The job receives a
// context cancelled on Stop.
func (s *Service) Start(ctx context.Context, job func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	spec := strings.TrimSpace(s.cfg.Spec)
	if spec == "" {
		spec = "@every 5m"
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("scheduler spec %q: %w", spec, err)
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("scheduler timezone %q: %w", tz, err)
		}
		loc = l
	}

	s.runCtx, s.runCancel = context.WithCancel(ctx)
	runCtx := s.runCtx

	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	c.Schedule(sched, cron.FuncJob(func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in scheduled pass",
					logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		if runCtx.Err() != nil {
			return
		}
		job(runCtx)
	}))

	s.c = c
	c.Start()
	s.log.Info("scheduler started", logx.String("spec", spec), logx.String("tz", loc.String()))
	return nil
}

// Stop halts the cron loop and cancels the running job's context. It waits
// for in-flight runs until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCancel = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		// Give up waiting; the job context is cancelled below either way.
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("scheduler stopped")
}
