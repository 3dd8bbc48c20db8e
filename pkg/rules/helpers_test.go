package rules

import (
	"context"
	"sync"

	"github.com/aretw0/convengine/pkg/domain"
)

type auditRecord struct {
	Stage   string
	Payload map[string]any
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []auditRecord
}

func (a *recordingAuditor) Audit(_ context.Context, stage, _ string, payload map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, auditRecord{Stage: stage, Payload: payload})
	return nil
}

func (a *recordingAuditor) byStage(stage string) []auditRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []auditRecord
	for _, e := range a.events {
		if e.Stage == stage {
			out = append(out, e)
		}
	}
	return out
}

// recordingAction records the IDs of rules it is applied for.
type recordingAction struct {
	name    string
	applied *[]string
	err     error
}

func (r recordingAction) Action() string { return r.name }

func (r recordingAction) Apply(_ context.Context, _ *domain.Session, rule domain.Rule) error {
	*r.applied = append(*r.applied, rule.ID)
	return r.err
}
