package render

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/deployplan"
	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/logging"
	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/steplogs"
)

// ManualApprovalType is the declared type of approval gate steps
const ManualApprovalType = "AttiniManualApproval"

// Internal steps injected into every deployment plan
var hiddenSteps = map[string]bool{
	"AttiniPrepareDeployment":        true,
	"AttiniPostExecutionActions":     true,
	"AttiniDeploymentPlanSfnTrigger": true,
}

// Row is one printable step event or log line
type Row struct {
	StepName  string
	Status    deployplan.StepStatus
	Output    string
	Timestamp time.Time
}

// TailerSource hands out the cached tailer of a step
type TailerSource interface {
	Tailer(step string) steplogs.Tailer
}

// State remembers which steps have been printed during one follow
type State struct {
	started   map[string]bool
	completed map[string]bool
}

// NewState creates empty render state
func NewState() *State {
	return &State{
		started:   make(map[string]bool),
		completed: make(map[string]bool),
	}
}

// Completed reports whether the completion of a step has been printed
func (s *State) Completed(step string) bool {
	return s.completed[step]
}

// ApprovalContext parameterizes the command printed for manual approvals
type ApprovalContext struct {
	Environment  string
	Distribution string
	Profile      string
	Region       string
}

// ContinueCommand returns the command an operator runs to unblock a step
func (a ApprovalContext) ContinueCommand(step string) string {
	cmd := fmt.Sprintf("attini deploy continue --environment %s --distribution-name %s --step-name %s", a.Environment, a.Distribution, step)
	if a.Profile != "" {
		cmd += " --profile " + a.Profile
	}
	if a.Region != "" {
		cmd += " --region " + a.Region
	}
	return cmd
}

// DefaultWidth is the step column width used when none is known
const DefaultWidth = 30

// StepTypes resolves the declared type of a step
type StepTypes interface {
	StepType(step string) string
}

// Renderer prints each step event exactly once across successive snapshots
type Renderer struct {
	console   *Console
	tailers   TailerSource
	stepTypes StepTypes
	approval  ApprovalContext
	width     int
	fanOut    int
	state     *State
	logger    logging.Logger
}

// RendererConfig contains the collaborators of a Renderer
type RendererConfig struct {
	Console   *Console
	Tailers   TailerSource
	StepTypes StepTypes
	Approval  ApprovalContext
	Width     int
	FanOut    int
	State     *State
	Logger    logging.Logger
}

// NewRenderer creates a renderer
func NewRenderer(config RendererConfig) *Renderer {
	if config.State == nil {
		config.State = NewState()
	}
	if config.Logger == nil {
		config.Logger = logging.Nop()
	}
	if config.FanOut <= 0 {
		config.FanOut = 1
	}
	if config.Width <= 0 {
		config.Width = DefaultWidth
	}
	return &Renderer{
		console:   config.Console,
		tailers:   config.Tailers,
		stepTypes: config.StepTypes,
		approval:  config.Approval,
		width:     config.Width,
		fanOut:    config.FanOut,
		state:     config.State,
		logger:    config.Logger,
	}
}

// Render prints everything in the snapshot and the step logs not printed before
func (r *Renderer) Render(ctx context.Context, snapshot deployplan.Snapshot) error {
	logRows, err := r.tailLogs(ctx, r.pendingSteps(snapshot))
	if err != nil {
		return err
	}

	rows := logRows
	for _, step := range snapshot.StartedSteps {
		if r.state.started[step.StepName] {
			continue
		}
		r.state.started[step.StepName] = true
		rows = append(rows, Row{StepName: step.StepName, Status: deployplan.StatusStarted, Timestamp: step.Timestamp})

		if r.stepTypes != nil && r.stepTypes.StepType(step.StepName) == ManualApprovalType {
			rows = append(rows, Row{
				StepName:  step.StepName,
				Status:    deployplan.StatusRunning,
				Output:    "Waiting for approval, run: " + r.approval.ContinueCommand(step.StepName),
				Timestamp: step.Timestamp.Add(time.Nanosecond),
			})
		}
	}

	for _, step := range snapshot.CompletedSteps {
		if r.state.completed[step.StepName] {
			continue
		}
		r.state.completed[step.StepName] = true
		rows = append(rows, Row{StepName: step.StepName, Status: step.Status, Output: step.Message, Timestamp: step.Timestamp})
	}

	visible := rows[:0]
	for _, row := range rows {
		if !hiddenSteps[row.StepName] {
			visible = append(visible, row)
		}
	}
	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].Timestamp.Before(visible[j].Timestamp)
	})

	for _, row := range visible {
		r.console.Row(row, r.width)
	}
	return nil
}

// pendingSteps returns the started steps whose completion has not been printed.
// Steps completing in this snapshot are included so their last lines are flushed.
func (r *Renderer) pendingSteps(snapshot deployplan.Snapshot) []string {
	var steps []string
	seen := make(map[string]bool)
	for _, step := range snapshot.StartedSteps {
		if seen[step.StepName] || r.state.completed[step.StepName] || hiddenSteps[step.StepName] {
			continue
		}
		seen[step.StepName] = true
		steps = append(steps, step.StepName)
	}
	return steps
}

// tailLogs reads new log lines of every step in parallel. Tailers are looked
// up on the calling goroutine; workers only read and return lines.
func (r *Renderer) tailLogs(ctx context.Context, steps []string) ([]Row, error) {
	if r.tailers == nil || len(steps) == 0 {
		return nil, nil
	}

	tailers := make([]steplogs.Tailer, len(steps))
	for i, step := range steps {
		tailers[i] = r.tailers.Tailer(step)
	}

	results := make([][]steplogs.LogLine, len(steps))
	failures := make([]error, len(steps))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.fanOut)
	for i := range steps {
		i := i
		g.Go(func() error {
			lines, err := tailers[i].Lines(gctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				failures[i] = err
				return nil
			}
			results[i] = lines
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var rows []Row
	for i, step := range steps {
		if failures[i] != nil {
			r.logger.Warn("failed to read step log", logging.F("step", step), logging.Err(failures[i]))
			continue
		}
		for _, line := range results[i] {
			rows = append(rows, Row{
				StepName:  step,
				Status:    deployplan.StatusRunning,
				Output:    strings.TrimRight(line.Text, "\n"),
				Timestamp: line.Timestamp,
			})
		}
	}
	return rows, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
