package steplogs

import (
	"path"

	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/logging"
)

// Step types that write their output to a log object
var logProducingTypes = map[string]bool{
	"AttiniRunner": true,
	"AttiniCdk":    true,
	"AttiniSam":    true,
	"AttiniImport": true,
}

// ProducesLogs reports whether a declared step type writes external logs
func ProducesLogs(stepType string) bool {
	return logProducingTypes[stepType]
}

// Location addresses the log objects of one execution
type Location struct {
	Bucket        string
	Prefix        string
	Environment   string
	Distribution  string
	ExecutionName string
}

// Key returns the object key of a step's log
func (l Location) Key(step string) string {
	return path.Join(l.Prefix, l.Environment, l.Distribution, l.ExecutionName, step+".log")
}

// StepTypes resolves the declared type of a step
type StepTypes interface {
	StepType(step string) string
}

// Registry creates one tailer per step on first use and keeps it for the
// lifetime of a follow. It is only used from the control goroutine.
type Registry struct {
	client    s3iface.S3API
	location  Location
	stepTypes StepTypes
	tailers   map[string]Tailer
	logger    logging.Logger
}

// NewRegistry creates a registry for one execution
func NewRegistry(client s3iface.S3API, location Location, stepTypes StepTypes, logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Registry{
		client:    client,
		location:  location,
		stepTypes: stepTypes,
		tailers:   make(map[string]Tailer),
		logger:    logger,
	}
}

// Tailer returns the cached tailer of a step, creating it on first use
func (r *Registry) Tailer(step string) Tailer {
	if t, ok := r.tailers[step]; ok {
		return t
	}

	var t Tailer = NoopTailer{}
	if r.stepTypes != nil && ProducesLogs(r.stepTypes.StepType(step)) {
		t = NewS3Tailer(r.client, r.location.Bucket, r.location.Key(step), r.logger.WithFields(logging.F("step", step)))
	}
	r.tailers[step] = t
	return t
}
