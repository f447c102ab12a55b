package health

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/akam1o/volume-lifecycle/pkg/registry"
)

// RecordState classifies the control-plane view of the store
type RecordState int

const (
	// RecordAbsent means the control plane has no opinion: the registry
	// could not be queried or its answer was unusable.
	RecordAbsent RecordState = iota
	// RecordNotReady covers an empty record list and any non-Ready status.
	RecordNotReady
	// RecordReady means exactly one record in Ready status.
	RecordReady
)

func (s RecordState) String() string {
	switch s {
	case RecordAbsent:
		return "absent"
	case RecordNotReady:
		return "not-ready"
	case RecordReady:
		return "ready"
	default:
		return fmt.Sprintf("RecordState(%d)", int(s))
	}
}

// Verdict is the outcome of the decision table
type Verdict int

const (
	Healthy Verdict = iota
	Unhealthy
	DelegateToContainerCheck
)

func (v Verdict) String() string {
	switch v {
	case Healthy:
		return "healthy"
	case Unhealthy:
		return "unhealthy"
	case DelegateToContainerCheck:
		return "delegate-to-container-check"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

// Decide combines the probe result with the record state
func Decide(probeOK bool, record RecordState) Verdict {
	if !probeOK {
		if record == RecordReady {
			return Unhealthy
		}
		return DelegateToContainerCheck
	}
	if record == RecordNotReady {
		// Store was removed after init while the data plane still answers.
		return Unhealthy
	}
	return Healthy
}

// RecordSource returns the store's init record, nil when there is none
type RecordSource interface {
	Lookup(ctx context.Context) (*registry.Record, error)
}

// Report is the result of one health evaluation
type Report struct {
	Verdict Verdict
	Healthy bool
	Probe   ProbeResult
	Record  RecordState
	Message string
}

// ExitCode maps the report to the health-check process exit code
func (r Report) ExitCode() int {
	if r.Healthy {
		return 0
	}
	return 2
}

// Aggregator produces a single health verdict for the service
type Aggregator struct {
	prober     Prober
	records    RecordSource
	containers ContainerChecker
	container  string
}

// NewAggregator creates a new aggregator. container names the service
// container consulted when the decision is delegated.
func NewAggregator(prober Prober, records RecordSource, containers ContainerChecker, container string) *Aggregator {
	return &Aggregator{
		prober:     prober,
		records:    records,
		containers: containers,
		container:  container,
	}
}

// Check evaluates the probe and the init record and resolves the verdict
func (a *Aggregator) Check(ctx context.Context) Report {
	probe := a.prober.Probe(ctx)
	record := a.classifyRecord(ctx)
	verdict := Decide(probe.OK, record)

	report := Report{
		Verdict: verdict,
		Probe:   probe,
		Record:  record,
	}
	branch := fmt.Sprintf("probe=%s (%s) record=%s", okString(probe.OK), probe.Message, record)

	switch verdict {
	case Healthy:
		report.Healthy = true
		report.Message = branch + ": healthy"
	case Unhealthy:
		report.Message = branch + ": unhealthy"
	case DelegateToContainerCheck:
		running, err := a.containers.IsRunning(ctx, a.container)
		switch {
		case err != nil:
			report.Message = fmt.Sprintf("%s: container check for %s failed: %v", branch, a.container, err)
		case running:
			report.Healthy = true
			report.Message = fmt.Sprintf("%s: container %s is running", branch, a.container)
		default:
			report.Message = fmt.Sprintf("%s: container %s is not running", branch, a.container)
		}
	}

	klog.V(2).Infof("Health check: %s", report.Message)
	return report
}

func (a *Aggregator) classifyRecord(ctx context.Context) RecordState {
	record, err := a.records.Lookup(ctx)
	if err != nil {
		klog.Warningf("Failed to read init record: %v", err)
		return RecordAbsent
	}
	if record == nil || record.Status != registry.StatusReady {
		return RecordNotReady
	}
	return RecordReady
}

func okString(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
