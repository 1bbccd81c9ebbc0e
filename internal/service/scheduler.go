package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pnl-tracker/internal/config"
	apperrors "github.com/pnl-tracker/internal/errors"
	"github.com/pnl-tracker/internal/logging"
	"github.com/pnl-tracker/internal/models"
	"github.com/pnl-tracker/internal/retry"
)

// maxConcurrentAccounts bounds parallel pulls in one cycle
const maxConcurrentAccounts = 4

// Puller runs the pipeline for one account
type Puller interface {
	PullAndReconcile(ctx context.Context, acc config.AccountConfig) (*PullResult, error)
}

// AccountOutcome is the result of one account in a scheduled cycle
type AccountOutcome struct {
	Account  models.Account
	Result   *PullResult
	Attempts int
	Err      error
}

// Scheduler runs every configured account once a day at the configured
// wall-clock time, retrying transient failures with exponential backoff
type Scheduler struct {
	puller   Puller
	accounts []config.AccountConfig
	schedule config.ScheduleConfig
	retry    *retry.RetryConfig
	logger   *logging.Logger
	now      func() time.Time

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewScheduler creates a scheduler for accounts
func NewScheduler(puller Puller, accounts []config.AccountConfig, schedule config.ScheduleConfig, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if schedule.Location == nil {
		schedule.Location = time.UTC
	}
	maxAttempts := schedule.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Scheduler{
		puller:   puller,
		accounts: accounts,
		schedule: schedule,
		retry: &retry.RetryConfig{
			MaxAttempts:  maxAttempts,
			InitialDelay: schedule.InitialBackoff,
			MaxDelay:     schedule.MaxBackoff,
			Multiplier:   2.0,
			ShouldRetry:  apperrors.IsRetryable,
		},
		logger: logger,
		now:    time.Now,
	}
}

// NextRun returns the first scheduled time strictly after from
func (s *Scheduler) NextRun(from time.Time) (time.Time, error) {
	hour, minute, err := s.schedule.Clock()
	if err != nil {
		return time.Time{}, err
	}
	local := from.In(s.schedule.Location)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, s.schedule.Location)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, s.schedule.Location)
	}
	return next, nil
}

// RunAll pulls every account once. Accounts run concurrently and one
// account's failure does not affect the others.
func (s *Scheduler) RunAll(ctx context.Context) []AccountOutcome {
	s.logger.WithField("accounts", len(s.accounts)).Info("Starting snapshot cycle")

	outcomes := make([]AccountOutcome, len(s.accounts))
	g := new(errgroup.Group)
	g.SetLimit(maxConcurrentAccounts)

	for i, acc := range s.accounts {
		i, acc := i, acc
		g.Go(func() error {
			outcomes[i] = s.runAccount(ctx, acc)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	s.logger.WithFields(map[string]interface{}{
		"succeeded": len(outcomes) - failed,
		"failed":    failed,
	}).Info("Snapshot cycle complete")

	return outcomes
}

func (s *Scheduler) runAccount(ctx context.Context, acc config.AccountConfig) AccountOutcome {
	outcome := AccountOutcome{Account: models.Account{Exchange: acc.Exchange, ID: acc.AccountID()}}
	log := s.logger.ForAccount(outcome.Account.Exchange, outcome.Account.ID)

	res := retry.WithExponentialBackoff(logging.WithLogger(ctx, log), s.retry, func(ctx context.Context, attempt int) error {
		result, err := s.puller.PullAndReconcile(ctx, acc)
		if result != nil {
			outcome.Result = result
		}
		return err
	})

	outcome.Attempts = res.Attempts
	if !res.Success {
		outcome.Err = res.LastError
		log.WithError(res.LastError).WithFields(map[string]interface{}{
			"attempts":        res.Attempts,
			logging.FieldStage: string(apperrors.StageOf(res.LastError)),
		}).Error("Account snapshot failed")
	}
	return outcome
}

// Start runs RunAll at every scheduled time until ctx is done or Stop is
// called
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("snapshot scheduler is already running")
	}
	if _, err := s.NextRun(s.now()); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}

	s.running = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(ctx, s.stopChan, s.done)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		next, _ := s.NextRun(s.now())
		wait := next.Sub(s.now())
		s.logger.WithFields(map[string]interface{}{
			"next_run": next.Format(time.RFC3339),
			"in":       wait.Round(time.Second).String(),
		}).Info("Snapshot scheduler waiting")

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			s.RunAll(ctx)
		case <-stop:
			timer.Stop()
			s.logger.Info("Snapshot scheduler stopped")
			return
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("Snapshot scheduler context done")
			return
		}
	}
}

// Stop halts the scheduler and waits for an in-flight cycle to finish
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("snapshot scheduler is not running")
	}
	close(s.stopChan)
	done := s.done
	s.running = false
	s.mu.Unlock()

	<-done
	return nil
}
