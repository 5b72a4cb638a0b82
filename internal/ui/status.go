package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/untoldecay/chronicle/internal/types"
)

// StatusStyle picks the color for a run or job status.
func StatusStyle(status string) func(string) string {
	switch status {
	case "completed", "succeeded":
		return renderWith(PassStyle)
	case "failed":
		return renderWith(FailStyle)
	case "running":
		return renderWith(WarnStyle)
	case "cancelled":
		return renderWith(MutedStyle)
	}
	return func(s string) string { return s }
}

func renderWith(style lipgloss.Style) func(string) string {
	return func(s string) string { return style.Render(s) }
}

// RenderRunStatus renders a styled run summary block.
func RenderRunStatus(r *types.Run, jobs []*types.Job, spendUsd float64, tokensIn, tokensOut int) string {
	var b strings.Builder

	status := string(r.Status)
	b.WriteString(HeaderStyle.Render("Run "+r.ID) + "  " + StatusStyle(status)(status) + "\n")
	b.WriteString(MutedStyle.Render(fmt.Sprintf("%s to %s · model %s · timezone %s",
		r.StartDate, r.EndDate, r.Model, r.Config.Timezone)) + "\n")
	b.WriteString(fmt.Sprintf("Spend: %.4f USD · tokens in/out: %d/%d\n", spendUsd, tokensIn, tokensOut))

	if len(jobs) == 0 {
		return b.String()
	}

	t := NewTable(min(GetWidth(), 100))
	t.Headers("DAY", "STATUS", "TOKENS IN", "TOKENS OUT", "COST USD", "ERROR")
	for _, j := range jobs {
		errMsg := ""
		if j.Error != nil {
			errMsg = j.Error.Code
		}
		t.Row(j.DayDate, string(j.Status),
			fmt.Sprintf("%d", j.TokensIn), fmt.Sprintf("%d", j.TokensOut),
			fmt.Sprintf("%.4f", j.CostUsd), errMsg)
	}
	b.WriteString(t.Render() + "\n")
	return b.String()
}
