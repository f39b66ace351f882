package telemetry

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

// Report is a single call recorded by TestAPI.
type Report struct {
	Kind   string
	ID     string
	Params []any
}

// TestAPI records reports in memory and mirrors them to the test log.
type TestAPI struct {
	t       testing.TB
	mu      sync.Mutex
	reports []Report
}

func NewTestAPI(t testing.TB) *TestAPI {
	return &TestAPI{t: t}
}

func (a *TestAPI) record(kind, id string, params []any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reports = append(a.reports, Report{Kind: kind, ID: id, Params: params})
	a.t.Logf("%s %s %s", kind, id, fmt.Sprint(params...))
}

func (a *TestAPI) ReportBroken(id string, params ...any)  { a.record("broken", id, params) }
func (a *TestAPI) ReportWarning(id string, params ...any) { a.record("warning", id, params) }
func (a *TestAPI) ReportDebug(msg string, params ...any)  { a.record("debug", msg, params) }
func (a *TestAPI) ReportCount(id string, count int64)     { a.record("count", id, []any{count}) }

// Broken returns the ids of every ReportBroken call containing `substr`.
func (a *TestAPI) Broken(substr string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, r := range a.reports {
		if r.Kind == "broken" && strings.Contains(r.ID, substr) {
			out = append(out, r.ID)
		}
	}
	return out
}
