package ui

import (
	"strings"
	"testing"

	"github.com/untoldecay/chronicle/internal/types"
)

func TestStatusStyleKeepsLabel(t *testing.T) {
	for _, status := range []string{"completed", "succeeded", "failed", "running", "cancelled", "queued"} {
		got := StatusStyle(status)(status)
		if !strings.Contains(got, status) {
			t.Fatalf("StatusStyle(%q) lost its label: %q", status, got)
		}
	}
}

func TestRenderRunStatus(t *testing.T) {
	r := &types.Run{
		ID:        "run_abc",
		Status:    types.RunRunning,
		Model:     "stub",
		StartDate: "2025-05-01",
		EndDate:   "2025-05-03",
	}
	r.Config.Timezone = "UTC"
	jobs := []*types.Job{
		{DayDate: "2025-05-01", Status: types.JobSucceeded, TokensIn: 10, TokensOut: 5},
		{DayDate: "2025-05-02", Status: types.JobFailed, Error: &types.JobError{Code: "LLM_PROVIDER_ERROR"}},
	}

	out := RenderRunStatus(r, jobs, 0.1234, 10, 5)
	for _, want := range []string{"run_abc", "running", "2025-05-01", "2025-05-02", "LLM_PROVIDER_ERROR"} {
		if !strings.Contains(out, want) {
			t.Fatalf("rendered status missing %q:\n%s", want, out)
		}
	}

	// No jobs: header only, no table.
	out = RenderRunStatus(r, nil, 0, 0, 0)
	if strings.Contains(out, "DAY") {
		t.Fatalf("empty run rendered a job table:\n%s", out)
	}
}
