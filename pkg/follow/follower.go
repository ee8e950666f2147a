// Package follow drives the phased observation of a deployment until it reaches a terminal outcome.
package follow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/deploydata"
	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/deployplan"
	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/logging"
	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/render"
	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/stackerrors"
	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/stackstatus"
)

// ErrInterrupted is returned when a wait is cut short
var ErrInterrupted = errors.New("follow interrupted")

// FailedError is returned when the deployment ends unsuccessfully.
// Reported is set when the cause has already been printed.
type FailedError struct {
	Message  string
	Reported bool
}

func (e *FailedError) Error() string {
	if e.Message == "" {
		return "deployment failed"
	}
	return e.Message
}

// Request identifies the upload to follow
type Request struct {
	Environment      string
	Distribution     string
	ObjectIdentifier string
}

// StackReader reads infra stack state
type StackReader interface {
	Status(ctx context.Context, stackName string) (stackstatus.Status, error)
	ResourceErrors(ctx context.Context, stackName string) ([]deploydata.StackError, error)
}

// PlanReader reads deployment plan executions
type PlanReader interface {
	Snapshot(ctx context.Context, executionArn string) (deployplan.Snapshot, error)
	LongestStepName(ctx context.Context, executionArn string, defaultWidth int) int
}

// TailerFactory creates the step log tailers of one plan execution
type TailerFactory func(data deploydata.DeployData, executionName string) render.TailerSource

// Config contains the polling settings of a Follower
type Config struct {
	PollInterval       time.Duration
	StackRetries       int
	StackRetryBackoff  time.Duration
	MaxDeployDataWait  time.Duration
	LogFanOut          int
	DefaultColumnWidth int

	// Profile and Region are echoed in operator commands
	Profile string
	Region  string
}

// Follower observes deployments. It never writes to any remote service.
type Follower struct {
	store   deploydata.Store
	stacks  StackReader
	plans   PlanReader
	tailers TailerFactory
	console *render.Console
	config  Config
	logger  logging.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// Option configures a Follower
type Option func(*Follower)

// WithSleeper replaces the wait between polls
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(f *Follower) { f.sleep = sleep }
}

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(f *Follower) { f.now = now }
}

// WithLogger sets the diagnostic logger
func WithLogger(logger logging.Logger) Option {
	return func(f *Follower) { f.logger = logger }
}

// NewFollower creates a follower
func NewFollower(store deploydata.Store, stacks StackReader, plans PlanReader, tailers TailerFactory, console *render.Console, config Config, opts ...Option) *Follower {
	f := &Follower{
		store:   store,
		stacks:  stacks,
		plans:   plans,
		tailers: tailers,
		console: console,
		config:  config,
		logger:  logging.Nop(),
		sleep:   sleepContext,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Follow observes the deployment of one upload until it succeeds, fails or
// turns out to have nothing to run.
func (f *Follower) Follow(ctx context.Context, req Request) error {
	run := &followRun{
		Follower: f,
		req:      req,
		id:       uuid.NewString(),
		surfacer: stackerrors.NewSurfacer(f.console, f.config.Region),
	}
	run.logger = f.logger.WithContext(ctx).WithFields(
		logging.F("follow_id", run.id),
		logging.F("environment", req.Environment),
		logging.F("distribution", req.Distribution),
	)
	return run.execute(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
	case <-timer.C:
		return nil
	}
}

func formatElapsed(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
