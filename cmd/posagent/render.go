package main

import (
	"fmt"
	"strings"
	"time"

	"retailsync/internal/localstore"
	"retailsync/internal/reconciler"
	"retailsync/internal/scheduler"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	labelStyle   = lipgloss.NewStyle().Width(14).Foreground(lipgloss.Color("245"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	maxErrLength = 48
)

func field(label, value string) string {
	return labelStyle.Render(label) + value
}

func renderReport(r reconciler.Report, took time.Duration) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Sync pass") + mutedStyle.Render(" ("+took.Round(time.Millisecond).String()+")") + "\n")
	b.WriteString(field("synced", okStyle.Render(fmt.Sprint(len(r.Succeeded)))) + "\n")

	failed := fmt.Sprint(len(r.Failed))
	if len(r.Failed) > 0 {
		failed = errorStyle.Render(failed)
	}
	b.WriteString(field("failed", failed) + "\n")
	b.WriteString(field("deferred", warnStyle.Render(fmt.Sprint(len(r.Deferred)))) + "\n")
	b.WriteString(field("held", warnStyle.Render(fmt.Sprint(len(r.Held)))) + "\n")

	for _, id := range r.Failed {
		b.WriteString(errorStyle.Render("  ✗ ") + id + mutedStyle.Render("  "+r.Errors[id]) + "\n")
	}
	return b.String()
}

func renderStatus(pending, errored int64, st *scheduler.Status) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("posagent") + mutedStyle.Render(" client "+app.clientID) + "\n")

	p := okStyle.Render("0")
	if pending > 0 {
		p = warnStyle.Render(fmt.Sprint(pending))
	}
	b.WriteString(field("pending", p) + "\n")

	e := okStyle.Render("0")
	if errored > 0 {
		e = errorStyle.Render(fmt.Sprint(errored))
	}
	b.WriteString(field("errors", e) + "\n")

	if st != nil {
		online := errorStyle.Render("offline")
		if st.Online {
			online = okStyle.Render("online")
		}
		b.WriteString(field("server", online) + "\n")
		b.WriteString(field("state", string(st.State)) + "\n")
		if st.LastSyncAt != nil {
			outcome := okStyle.Render(string(st.LastOutcome))
			if st.LastOutcome == scheduler.OutcomeError {
				outcome = errorStyle.Render(string(st.LastOutcome))
			}
			b.WriteString(field("last sync", st.LastSyncAt.Local().Format(time.DateTime)+" "+outcome) + "\n")
		}
		if st.LastError != "" {
			b.WriteString(field("last error", errorStyle.Render(st.LastError)) + "\n")
		}
	}
	return b.String()
}

func renderQueue(entries []localstore.Entry) string {
	if len(entries) == 0 {
		return mutedStyle.Render("queue is empty")
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers("#", "ID", "OP", "ENTITY", "QUEUED", "STATUS", "ERROR").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	for _, e := range entries {
		status := okStyle.Render(string(e.Status))
		switch {
		case e.Held():
			status = errorStyle.Render("held")
		case e.Status == localstore.StatusError:
			status = warnStyle.Render("retrying")
		}
		errMsg := e.Error
		if len(errMsg) > maxErrLength {
			errMsg = errMsg[:maxErrLength] + "..."
		}
		t.Row(
			fmt.Sprint(e.Seq),
			e.ID,
			string(e.Operation),
			e.Key().String(),
			e.Timestamp.Local().Format(time.DateTime),
			status,
			errMsg,
		)
	}
	return t.Render()
}

// renderTransition describes what changed between two status snapshots
// worth a line on the terminal: connectivity and finished passes. It
// returns "" when neither changed.
func renderTransition(prev, cur scheduler.Status) string {
	var lines []string
	if prev.Online != cur.Online {
		if cur.Online {
			lines = append(lines, okStyle.Render("● online"))
		} else {
			lines = append(lines, errorStyle.Render("● offline")+mutedStyle.Render(" changes stay queued"))
		}
	}
	if cur.LastSyncAt != nil && (prev.LastSyncAt == nil || !cur.LastSyncAt.Equal(*prev.LastSyncAt)) {
		r := cur.LastReport
		line := fmt.Sprintf("%s pass (%s): %d synced, %d failed, %d deferred, %d held, %d pending",
			cur.LastSyncAt.Local().Format(time.TimeOnly), cur.LastReason,
			r.Succeeded, r.Failed, r.Deferred, r.Held, cur.Pending)
		if cur.LastOutcome == scheduler.OutcomeError {
			line = errorStyle.Render("✗ ") + line + mutedStyle.Render("  "+cur.LastError)
		} else {
			line = okStyle.Render("✓ ") + line
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// followStatus prints transitions until updates is closed.
func followStatus(updates <-chan scheduler.Status, prev scheduler.Status) {
	for st := range updates {
		if line := renderTransition(prev, st); line != "" {
			fmt.Println(line)
		}
		prev = st
	}
}
