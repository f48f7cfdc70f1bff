// Package ux is the human narrative layer: colored phase headers and
// status glyphs for a terminal. It is deliberately separate from
// internal/obslog's structured logs — this package renders for a human
// watching a run, obslog records for later diagnosis.
package ux

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/conductor-sdlc/conductor/internal/domain"
)

// ANSI color codes. Set to "" by disableColor when stdout isn't a TTY, so
// every call site below can format unconditionally.
var (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Dim    = "\033[2m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Cyan   = "\033[36m"
)

func init() {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		disableColor()
	}
}

func disableColor() {
	Reset, Bold, Dim, Red, Green, Yellow, Cyan = "", "", "", "", "", "", ""
}

func timestamp() string {
	return time.Now().Format("15:04:05")
}

// rule is the divider drawn above and below a phase banner.
const rule = "----------------------------------------"

// PhaseHeader announces a phase the driver is about to advance, bracketed
// by a plain dashed rule rather than a double-line box.
func PhaseHeader(phase domain.Phase, iteration int) {
	fmt.Printf("\n%s%s%s\n", Cyan, rule, Reset)
	fmt.Printf("%s%s %sphase %d — %s%s (pass %d)\n",
		Dim, timestamp(), Bold, phase, strings.ToUpper(phase.String()), Reset, iteration)
	fmt.Printf("%s%s%s\n", Cyan, rule, Reset)
}

// PhaseComplete reports how long a phase ran once it finishes cleanly.
func PhaseComplete(phase domain.Phase, duration time.Duration) {
	fmt.Printf("%s%s%s %s%s finished, took %s%s\n",
		Dim, timestamp(), Reset, Green, phase.String(), formatElapsed(duration), Reset)
}

// PhaseFail reports a phase that ended in error.
func PhaseFail(phase domain.Phase, errMsg string) {
	fmt.Printf("%s%s%s %s%s gave up: %s%s\n",
		Dim, timestamp(), Reset, Red, phase.String(), errMsg, Reset)
}

// ResumeHint tells the operator how to pick the run back up.
func ResumeHint(workflowID string) {
	fmt.Printf("\n%swaiting on a human — resume with:%s conductor resume %s --action <retry|approve|abort>\n", Yellow, Reset, workflowID)
}

// LoopBack reports a phase sending work backward to an earlier one.
func LoopBack(from, to domain.Phase, attempt, max int) {
	fmt.Printf("%s%s%s %s%s asked for changes, back to %s (try %d of %d)%s\n",
		Dim, timestamp(), Reset, Yellow, from.String(), to.String(), attempt, max, Reset)
}

// Escalated reports a phase punting its decision to a human.
func Escalated(phase domain.Phase, reason string) {
	fmt.Printf("%s%s%s %shuman needed for %s: %s%s\n",
		Dim, timestamp(), Reset, Yellow, phase.String(), reason, Reset)
}

// Success reports a workflow reaching its terminal completed state.
func Success(workflowID string) {
	fmt.Printf("\n%s%s%s%sdone — workflow %s%s\n\n", Bold, Green, timestamp(), Reset, workflowID, Reset)
}

// ToolUse reports an agent's tool call as it streams by.
func ToolUse(name, input string) {
	fmt.Printf("    %s> %s%s  %s\n", Cyan, name, Reset, clip(input))
}

// ToolDenied reports a tool call the permission layer blocked.
func ToolDenied(name, input string) {
	fmt.Printf("    %sx %s [blocked]%s  %s\n", Red, name, Reset, clip(input))
}

// clip shortens a tool call's input for single-line display.
func clip(s string) string {
	const max = 96
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

// formatElapsed renders a duration as "4m12s", omitting the minutes field
// entirely when it's zero.
func formatElapsed(d time.Duration) string {
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	if m == 0 {
		return fmt.Sprintf("%ds", s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}
