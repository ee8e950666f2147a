package follow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"

	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/deploydata"
	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/deployplan"
	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/logging"
	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/render"
	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/stackerrors"
	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/stackstatus"
)

// Phase is a state of the follow state machine
type Phase string

const (
	PhaseAwaitDeployData Phase = "AwaitDeployData"
	PhaseStack           Phase = "StackPhase"
	PhaseAwaitPlanCount  Phase = "AwaitPlanCount"
	PhasePlan            Phase = "PlanPhase"
	PhaseDone            Phase = "Done"
)

// followRun is the state owned by one Follow call
type followRun struct {
	*Follower
	req      Request
	id       string
	logger   logging.Logger
	surfacer *stackerrors.Surfacer
	data     deploydata.DeployData
}

func (r *followRun) execute(ctx context.Context) error {
	phase := PhaseAwaitDeployData
	for phase != PhaseDone {
		r.logger.LogPhase(r.id, string(phase), nil)

		var next Phase
		var err error
		switch phase {
		case PhaseAwaitDeployData:
			next, err = r.awaitDeployData(ctx)
		case PhaseStack:
			next, err = r.followStack(ctx)
		case PhaseAwaitPlanCount:
			next, err = r.awaitPlanCount(ctx)
		case PhasePlan:
			next, err = r.followPlans(ctx)
		default:
			return fmt.Errorf("unknown follow phase %q", phase)
		}
		if err != nil {
			// Cancellation can surface from any remote call, not only from a wait
			if ctx.Err() != nil && !errors.Is(err, ErrInterrupted) {
				return fmt.Errorf("%w: %w", ErrInterrupted, err)
			}
			return err
		}
		phase = next
	}
	return nil
}

// refresh re-reads the deploy data record, keeping the last one when it is missing
func (r *followRun) refresh(ctx context.Context) (bool, error) {
	data, err := r.store.GetDeployData(ctx, r.req.Environment, r.req.Distribution, r.req.ObjectIdentifier)
	if errors.Is(err, deploydata.ErrDeployDataNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	r.data = data
	return true, nil
}

func (r *followRun) awaitDeployData(ctx context.Context) (Phase, error) {
	r.console.Phase(string(PhaseAwaitDeployData), "Waiting for deployment data")

	started := r.now()
	for {
		found, err := r.refresh(ctx)
		if err != nil {
			return "", err
		}
		if found {
			break
		}
		if r.config.MaxDeployDataWait > 0 && r.now().Sub(started) >= r.config.MaxDeployDataWait {
			return "", &FailedError{Message: fmt.Sprintf(
				"no deployment data appeared for %s in environment %s within %s, the upload was never picked up",
				r.req.Distribution, r.req.Environment, r.config.MaxDeployDataWait)}
		}
		if err := r.sleep(ctx, r.config.PollInterval); err != nil {
			return "", err
		}
	}

	r.printDistribution()

	if !r.data.HasStack() {
		return PhaseAwaitPlanCount, nil
	}
	if r.data.InitStackUnchanged {
		r.console.Phase(string(PhaseStack), fmt.Sprintf("Init stack %s unchanged, skipping", r.data.StackName))
		return PhaseAwaitPlanCount, nil
	}
	return PhaseStack, nil
}

func (r *followRun) printDistribution() {
	info := map[string]string{
		"environment":  r.data.Environment,
		"distribution": r.data.DistributionName,
	}
	if r.data.DistributionID != "" {
		info["distributionId"] = r.data.DistributionID
	}
	if r.data.Version != "" {
		info["version"] = r.data.Version
	}
	for k, v := range r.data.DistributionTags {
		info["tag."+k] = v
	}
	r.console.Info("Deploying distribution", info)
}

func (r *followRun) followStack(ctx context.Context) (Phase, error) {
	stackName := r.data.StackName
	r.console.Phase(string(PhaseStack), fmt.Sprintf("Waiting for init stack %s", stackName))

	status, err := r.firstStackStatus(ctx, stackName)
	if err != nil {
		return "", err
	}

	for {
		if _, err := r.refresh(ctx); err != nil {
			return "", err
		}
		r.surfacer.Surface(r.data)

		if stackstatus.IsTerminal(status.Status) {
			break
		}
		r.console.StackStatus(stackName, status.Status, status.Reason)

		if err := r.sleep(ctx, r.config.PollInterval); err != nil {
			return "", err
		}
		if status, err = r.stacks.Status(ctx, stackName); err != nil {
			if errors.Is(err, stackstatus.ErrStackNotFound) {
				return "", &FailedError{Message: fmt.Sprintf("init stack %s disappeared while it was being deployed", stackName)}
			}
			return "", err
		}
	}

	if stackstatus.IsSuccess(status.Status) {
		verb := "updated"
		if strings.HasPrefix(status.Status, "CREATE") {
			verb = "created"
		}
		r.console.Success(fmt.Sprintf("Init stack %s %s successfully", stackName, verb))
		return PhaseAwaitPlanCount, nil
	}

	r.console.StackStatus(stackName, status.Status, status.Reason)
	return "", r.stackFailure(ctx, status)
}

// firstStackStatus reads the stack, retrying while it has not been created yet
func (r *followRun) firstStackStatus(ctx context.Context, stackName string) (stackstatus.Status, error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.config.StackRetryBackoff), uint64(r.config.StackRetries)),
		ctx,
	)

	status, err := backoff.RetryWithData(func() (stackstatus.Status, error) {
		status, err := r.stacks.Status(ctx, stackName)
		if errors.Is(err, stackstatus.ErrStackNotFound) {
			r.logger.Debug("init stack not found yet", logging.F("stack", stackName))
			return status, err
		}
		if err != nil {
			return status, backoff.Permanent(err)
		}
		return status, nil
	}, policy)

	if errors.Is(err, stackstatus.ErrStackNotFound) {
		return status, &FailedError{Message: fmt.Sprintf("init stack %s was not found", stackName)}
	}
	if err != nil && ctx.Err() != nil {
		return status, fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
	}
	return status, err
}

// stackFailure picks the most specific explanation of a failed stack
func (r *followRun) stackFailure(ctx context.Context, status stackstatus.Status) error {
	generic := fmt.Sprintf("Init stack %s failed with status %s", status.StackName, status.Status)
	if r.surfacer.Printed() {
		return &FailedError{Message: generic, Reported: true}
	}
	if r.data.InitStackErrorMessage != "" {
		return &FailedError{Message: r.data.InitStackErrorMessage}
	}

	resourceErrors, err := r.stacks.ResourceErrors(ctx, r.data.StackName)
	if err != nil {
		r.logger.Warn("could not look up stack resource errors", logging.Err(err))
	}
	if len(resourceErrors) > 0 {
		first := resourceErrors[0]
		return &FailedError{Message: fmt.Sprintf("%s: resource %s is %s: %s", generic, first.ResourceName, first.ResourceStatus, first.Error)}
	}
	if status.Reason != "" {
		generic += ": " + status.Reason
	}
	return &FailedError{Message: generic}
}

func (r *followRun) awaitPlanCount(ctx context.Context) (Phase, error) {
	r.console.Phase(string(PhaseAwaitPlanCount), "Waiting for deployment plan")

	for !r.data.PlanCountKnown() {
		if err := r.sleep(ctx, r.config.PollInterval); err != nil {
			return "", err
		}
		if _, err := r.refresh(ctx); err != nil {
			return "", err
		}
	}

	if r.data.PlanCount() == 0 {
		r.console.Success("No deployment plan to run, deployment done")
		return PhaseDone, nil
	}
	return PhasePlan, nil
}

func (r *followRun) followPlans(ctx context.Context) (Phase, error) {
	expected := r.data.PlanCount()
	for len(r.data.Plans()) < expected {
		if err := r.sleep(ctx, r.config.PollInterval); err != nil {
			return "", err
		}
		if _, err := r.refresh(ctx); err != nil {
			return "", err
		}
	}

	for _, plan := range r.data.Plans() {
		if err := r.followPlan(ctx, plan); err != nil {
			return "", err
		}
	}
	return PhaseDone, nil
}

func (r *followRun) followPlan(ctx context.Context, plan deploydata.Plan) error {
	r.console.Phase(string(PhasePlan), fmt.Sprintf("Following deployment plan %s", plan.Name))

	renderer := render.NewRenderer(render.RendererConfig{
		Console:   r.console,
		Tailers:   r.tailers(r.data, ExecutionName(plan.ExecutionArn)),
		StepTypes: r.data,
		Approval: render.ApprovalContext{
			Environment:  r.req.Environment,
			Distribution: r.req.Distribution,
			Profile:      r.config.Profile,
			Region:       r.config.Region,
		},
		Width:  r.plans.LongestStepName(ctx, plan.ExecutionArn, r.config.DefaultColumnWidth),
		FanOut: r.config.LogFanOut,
		Logger: r.logger.WithFields(logging.F("plan", plan.Name)),
	})

	tick := func() (deployplan.Snapshot, error) {
		snapshot, err := r.plans.Snapshot(ctx, plan.ExecutionArn)
		if err != nil {
			return snapshot, err
		}
		if _, err := r.refresh(ctx); err != nil {
			return snapshot, err
		}
		r.surfacer.Surface(r.data)
		return snapshot, renderer.Render(ctx, snapshot)
	}

	for {
		snapshot, err := tick()
		if err != nil {
			return err
		}
		if !snapshot.Running() {
			break
		}
		if err := r.sleep(ctx, r.config.PollInterval); err != nil {
			return err
		}
	}

	// One more pass picks up events and log lines written after the status flipped
	snapshot, err := tick()
	if err != nil {
		return err
	}

	elapsed := formatElapsed(snapshot.Elapsed(r.now()))
	if snapshot.Succeeded() {
		r.console.Success(fmt.Sprintf("Deployment plan %s finished in %s", plan.Name, elapsed))
		return nil
	}

	r.console.Phase(string(PhasePlan), fmt.Sprintf("Deployment plan %s ended with status %s after %s", plan.Name, snapshot.Status, elapsed))
	if r.surfacer.Printed() {
		return &FailedError{Reported: true}
	}
	if msg := snapshot.FailureMessage(); msg != "" {
		return &FailedError{Message: msg}
	}
	if r.data.DeploymentPlanErrorMessage != "" {
		return &FailedError{Message: r.data.DeploymentPlanErrorMessage}
	}
	return &FailedError{Message: fmt.Sprintf("Deployment plan %s ended with status %s", plan.Name, snapshot.Status)}
}

// ExecutionName returns the last segment of an execution ARN
func ExecutionName(executionArn string) string {
	if i := strings.LastIndex(executionArn, ":"); i >= 0 {
		return executionArn[i+1:]
	}
	return executionArn
}
