package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/akam1o/volume-lifecycle/pkg/registry"
)

type stubProber ProbeResult

func (s stubProber) Probe(context.Context) ProbeResult { return ProbeResult(s) }

type stubRecords struct {
	record *registry.Record
	err    error
}

func (s stubRecords) Lookup(context.Context) (*registry.Record, error) { return s.record, s.err }

type stubContainers struct {
	running bool
	err     error
	asked   []string
}

func (s *stubContainers) IsRunning(_ context.Context, name string) (bool, error) {
	s.asked = append(s.asked, name)
	return s.running, s.err
}

func TestDecide(t *testing.T) {
	tests := []struct {
		probeOK bool
		record  RecordState
		want    Verdict
	}{
		{false, RecordAbsent, DelegateToContainerCheck},
		{false, RecordNotReady, DelegateToContainerCheck},
		{false, RecordReady, Unhealthy},
		{true, RecordAbsent, Healthy},
		{true, RecordNotReady, Unhealthy},
		{true, RecordReady, Healthy},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Decide(tt.probeOK, tt.record), "probe=%v record=%s", tt.probeOK, tt.record)
	}
}

func TestAggregator_Check(t *testing.T) {
	ready := &registry.Record{Status: registry.StatusReady, VolumeID: "v1"}
	initializing := &registry.Record{Status: registry.StatusInitializing}
	ok := stubProber{OK: true, Message: "HTTP 200 OK"}
	failed := stubProber{Message: "request failed: connection refused"}

	tests := []struct {
		name        string
		probe       stubProber
		records     stubRecords
		running     bool
		wantVerdict Verdict
		wantHealthy bool
		wantRecord  RecordState
		wantAsked   bool
	}{
		{"ok_ready", ok, stubRecords{record: ready}, false, Healthy, true, RecordReady, false},
		{"ok_registry_down", ok, stubRecords{err: errors.New("down")}, false, Healthy, true, RecordAbsent, false},
		{"ok_empty_list", ok, stubRecords{}, false, Unhealthy, false, RecordNotReady, false},
		{"ok_initializing", ok, stubRecords{record: initializing}, false, Unhealthy, false, RecordNotReady, false},
		{"failed_ready", failed, stubRecords{record: ready}, true, Unhealthy, false, RecordReady, false},
		{"failed_empty_running", failed, stubRecords{}, true, DelegateToContainerCheck, true, RecordNotReady, true},
		{"failed_registry_down_stopped", failed, stubRecords{err: errors.New("down")}, false, DelegateToContainerCheck, false, RecordAbsent, true},
		{"failed_invariant_violation", failed, stubRecords{err: registry.ErrInvariantViolation}, true, DelegateToContainerCheck, true, RecordAbsent, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			containers := &stubContainers{running: tt.running}
			report := NewAggregator(tt.probe, tt.records, containers, "s3-scality").Check(context.Background())

			assert.Equal(t, tt.wantVerdict, report.Verdict)
			assert.Equal(t, tt.wantHealthy, report.Healthy)
			assert.Equal(t, tt.wantRecord, report.Record)
			assert.NotEmpty(t, report.Message)
			if tt.wantAsked {
				assert.Equal(t, []string{"s3-scality"}, containers.asked)
			} else {
				assert.Empty(t, containers.asked)
			}
			if tt.wantHealthy {
				assert.Equal(t, 0, report.ExitCode())
			} else {
				assert.Equal(t, 2, report.ExitCode())
			}
		})
	}
}

func TestAggregator_ContainerCheckError(t *testing.T) {
	containers := &stubContainers{running: true, err: errors.New("socket missing")}
	report := NewAggregator(stubProber{}, stubRecords{}, containers, "svc").Check(context.Background())

	assert.False(t, report.Healthy)
	assert.Contains(t, report.Message, "socket missing")
}
