// Package housekeeping runs periodic maintenance: pruning idle rate limit
// buckets and expiring matches nobody decided on.
package housekeeping

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/clothbridge/clothbridge/internal/app/metrics"
	"github.com/clothbridge/clothbridge/internal/app/system"
	"github.com/clothbridge/clothbridge/pkg/logger"
)

var _ system.Service = (*Scheduler)(nil)

// Pruner drops idle per-client state.
type Pruner interface {
	Prune(idle time.Duration) int
}

// Expirer declines matches left pending longer than ttl.
type Expirer interface {
	ExpirePending(ctx context.Context, ttl time.Duration, now time.Time) (int, error)
}

// Scheduler runs the housekeeping jobs on a cron schedule.
type Scheduler struct {
	spec       string
	limiter    Pruner
	limiterTTL time.Duration
	matches    Expirer
	pendingTTL time.Duration
	timeout    time.Duration
	now        func() time.Time
	log        *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// New builds a scheduler firing on spec (standard five field cron or a
// descriptor such as "@every 5m").
func New(spec string, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("housekeeping")
	}
	if spec == "" {
		spec = "@every 5m"
	}
	return &Scheduler{spec: spec, timeout: time.Minute, now: time.Now, log: log}
}

// WithLimiter prunes p's keys idle for longer than idle.
func (s *Scheduler) WithLimiter(p Pruner, idle time.Duration) *Scheduler {
	s.limiter, s.limiterTTL = p, idle
	return s
}

// WithMatchExpiry declines matches pending longer than ttl. Zero disables.
func (s *Scheduler) WithMatchExpiry(e Expirer, ttl time.Duration) *Scheduler {
	s.matches, s.pendingTTL = e, ttl
	return s
}

func (s *Scheduler) Name() string { return "housekeeping" }

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New(cron.WithChain(cron.Recover(cronLogger{s.log}), cron.SkipIfStillRunning(cronLogger{s.log})))
	if _, err := c.AddFunc(s.spec, s.RunOnce); err != nil {
		return fmt.Errorf("schedule %q: %w", s.spec, err)
	}

	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.cron = c
	s.running = true
	c.Start()

	s.log.WithField("spec", s.spec).Info("housekeeping scheduler started")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c, cancel := s.cron, s.cancel
	s.running = false
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("housekeeping scheduler stopped")
	return nil
}

// RunOnce runs every configured job now.
func (s *Scheduler) RunOnce() {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	if s.limiter != nil && s.limiterTTL > 0 {
		n := s.limiter.Prune(s.limiterTTL)
		metrics.RecordSchedulerRun("prune_rate_limits", true)
		if n > 0 {
			s.log.WithField("removed", n).Debug("pruned idle rate limit buckets")
		}
	}

	if s.matches != nil && s.pendingTTL > 0 {
		n, err := s.matches.ExpirePending(ctx, s.pendingTTL, s.now())
		metrics.RecordSchedulerRun("expire_matches", err == nil)
		if err != nil {
			s.log.WithError(err).Warn("expire pending matches failed")
		} else if n > 0 {
			s.log.WithField("expired", n).Info("expired pending matches")
		}
	}
}

// cronLogger adapts the logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(kv []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return out
}
