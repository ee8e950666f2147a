// Package deploydata reads the per-distribution deployment metadata record.
package deploydata

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrDeployDataNotFound is returned while the record for an upload does not exist yet
var ErrDeployDataNotFound = errors.New("deploy data not found")

// Store reads deployment metadata
type Store interface {
	// GetDeployData returns the record written for one upload of a distribution
	GetDeployData(ctx context.Context, environment, distribution, objectIdentifier string) (DeployData, error)
}

// DeployData is the metadata record the remote deployment pipeline keeps per upload
type DeployData struct {
	// DeploymentName is the partition key, environment and distribution joined by a dash
	DeploymentName string `dynamodbav:"deploymentName" json:"deploymentName"`

	// DeploymentTime is the upload time in epoch milliseconds
	DeploymentTime int64 `dynamodbav:"deploymentTime" json:"deploymentTime"`

	Environment      string `dynamodbav:"environment" json:"environment"`
	DistributionName string `dynamodbav:"distributionName" json:"distributionName"`
	DistributionID   string `dynamodbav:"distributionId" json:"distributionId"`
	ObjectIdentifier string `dynamodbav:"objectIdentifier" json:"objectIdentifier"`
	Version          string `dynamodbav:"version,omitempty" json:"version,omitempty"`

	// StackName is the init stack, empty when the distribution declares none
	StackName string `dynamodbav:"stackName,omitempty" json:"stackName,omitempty"`

	// InitStackUnchanged is set when the init stack update was a no-op
	InitStackUnchanged bool `dynamodbav:"initStackUnchanged" json:"initStackUnchanged"`

	// InitStackErrorMessage is the recorded stack level error, if any
	InitStackErrorMessage string `dynamodbav:"initStackErrorMessage,omitempty" json:"initStackErrorMessage,omitempty"`

	// InitStackErrors are the resource level stack errors recorded so far
	InitStackErrors []StackError `dynamodbav:"initStackErrors,omitempty" json:"initStackErrors,omitempty"`

	// DeploymentPlanCount is nil until the pipeline has counted the plans
	DeploymentPlanCount *int `dynamodbav:"deploymentPlanCount,omitempty" json:"deploymentPlanCount,omitempty"`

	// ExecutionArns maps deployment plan name to execution handle
	ExecutionArns map[string]string `dynamodbav:"executionArns,omitempty" json:"executionArns,omitempty"`

	// AttiniSteps maps step name to declared step type
	AttiniSteps map[string]string `dynamodbav:"attiniSteps,omitempty" json:"attiniSteps,omitempty"`

	// DeploymentPlanErrorMessage is a plan level error recorded by the pipeline
	DeploymentPlanErrorMessage string `dynamodbav:"deploymentPlanErrorMessage,omitempty" json:"deploymentPlanErrorMessage,omitempty"`

	DistributionTags map[string]string `dynamodbav:"distributionTags,omitempty" json:"distributionTags,omitempty"`
}

// StackError is one failed resource recorded against a stack
type StackError struct {
	StackName      string `dynamodbav:"stackName" json:"stackName"`
	ResourceName   string `dynamodbav:"resourceName" json:"resourceName"`
	ResourceStatus string `dynamodbav:"resourceStatus" json:"resourceStatus"`
	Error          string `dynamodbav:"error" json:"error"`
	Region         string `dynamodbav:"region" json:"region"`
}

// Key identifies a stack error for deduplication
func (e StackError) Key() string {
	return fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%s", e.StackName, e.ResourceName, e.ResourceStatus, e.Error, e.Region)
}

// DeploymentName joins environment and distribution into the partition key
func DeploymentName(environment, distribution string) string {
	return environment + "-" + distribution
}

// HasStack reports whether the deployment declares an init stack
func (d DeployData) HasStack() bool {
	return d.StackName != ""
}

// PlanCountKnown reports whether the plan count has been recorded
func (d DeployData) PlanCountKnown() bool {
	return d.DeploymentPlanCount != nil
}

// PlanCount returns the recorded plan count, zero when unknown
func (d DeployData) PlanCount() int {
	if d.DeploymentPlanCount == nil {
		return 0
	}
	return *d.DeploymentPlanCount
}

// Plan is a deployment plan with its execution handle
type Plan struct {
	Name         string
	ExecutionArn string
}

// Plans returns the recorded execution handles sorted by plan name
func (d DeployData) Plans() []Plan {
	plans := make([]Plan, 0, len(d.ExecutionArns))
	for name, arn := range d.ExecutionArns {
		if arn == "" {
			continue
		}
		plans = append(plans, Plan{Name: name, ExecutionArn: arn})
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].Name < plans[j].Name })
	return plans
}

// StepType returns the declared type of a step, empty when unknown
func (d DeployData) StepType(step string) string {
	return d.AttiniSteps[step]
}
