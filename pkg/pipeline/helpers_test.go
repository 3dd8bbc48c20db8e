package pipeline_test

import (
	"context"
	"sync"

	"github.com/aretw0/convengine/pkg/domain"
	"github.com/aretw0/convengine/pkg/ports"
)

type fakeStep struct {
	info ports.StepInfo
	fn   func(ctx context.Context, s *domain.Session) (domain.StepResult, error)
}

func (f *fakeStep) Info() ports.StepInfo { return f.info }

func (f *fakeStep) Execute(ctx context.Context, s *domain.Session) (domain.StepResult, error) {
	if f.fn == nil {
		return domain.Continue(), nil
	}
	return f.fn(ctx, s)
}

func step(info ports.StepInfo) *fakeStep { return &fakeStep{info: info} }

func bootstrap(name string) *fakeStep {
	return step(ports.StepInfo{Name: name, Bootstrap: true})
}

func terminal(name string) *fakeStep {
	return step(ports.StepInfo{Name: name, Terminal: true})
}

type recordedEvent struct {
	Stage   string
	Payload map[string]any
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (a *recordingAuditor) Audit(_ context.Context, stage, _ string, payload map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, recordedEvent{Stage: stage, Payload: payload})
	return a.err
}

func (a *recordingAuditor) stages() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.Stage)
	}
	return out
}

func (a *recordingAuditor) find(stage string) (recordedEvent, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.events {
		if e.Stage == stage {
			return e, true
		}
	}
	return recordedEvent{}, false
}

func names(steps []ports.Step) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.Info().Name)
	}
	return out
}
