package agentcli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/conductor-sdlc/conductor/internal/domain"
	"github.com/conductor-sdlc/conductor/internal/fileblocks"
)

// taskIDPattern matches a root task id (T1, T23) or a split-generated
// sub-task id (T1-a, T23-b).
var taskIDPattern = regexp.MustCompile(`^T\d+(-[a-z])?$`)

var validate = validator.New()

func init() {
	if err := validate.RegisterValidation("taskid", func(fl validator.FieldLevel) bool {
		return taskIDPattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
}

// Budget is the pre-flight/commit interface the adapter debits against.
// internal/budget.Ledger satisfies it.
type Budget interface {
	PreDebit(workflowID, taskID string, estimate float64) bool
	Commit(ctx context.Context, workflowID, taskID, agentID string, actual float64, dur time.Duration) error
}

// Adapter invokes external agent CLIs uniformly across the four
// capabilities, enforcing budget, timeout, and retry policy.
type Adapter struct {
	Configs map[Capability]AgentConfig
	Budget  Budget
	Display io.Writer // optional: streamed assistant text mirrored here

	filteredEnv []string // cached os.Environ() minus CLAUDECODE*
}

// InvokeResult is the normalised result of one capability invocation.
type InvokeResult struct {
	Text              string
	CostUSD           float64
	SessionID         string
	ExitCode          int
	PermissionDenials []PermissionDenial
	TimedOut          bool
}

// Invoke runs the agent bound to capability cap with prompt, in workDir,
// under budget/timeout policy. workflowID/taskID identify the
// budget line; taskID may be empty for plan-level invocations.
func (a *Adapter) Invoke(ctx context.Context, cap Capability, workflowID, taskID, prompt, workDir string) (*InvokeResult, error) {
	cfg, ok := a.Configs[cap]
	if !ok {
		return nil, fmt.Errorf("agentcli: no configuration bound to capability %q", cap)
	}

	if a.Budget != nil && !a.Budget.PreDebit(workflowID, taskID, cfg.BudgetEstimate) {
		return nil, &domain.ClassifiedError{
			Class: domain.ClassPolicyViolation,
			Code:  domain.CodeBudgetExceeded,
			Err:   fmt.Errorf("capability %s would exceed budget ceiling", cap),
		}
	}

	start := time.Now()
	res, timedOut, err := a.invokeWithRetry(ctx, cfg, prompt, workDir)
	duration := time.Since(start)

	cost := cfg.BudgetEstimate
	if res != nil && res.CostUSD > 0 {
		cost = res.CostUSD
	}
	if a.Budget != nil {
		if cerr := a.Budget.Commit(ctx, workflowID, taskID, cfg.AgentID, cost, duration); cerr != nil {
			return nil, cerr
		}
	}

	if err != nil {
		return nil, err
	}
	if timedOut {
		return &InvokeResult{TimedOut: true}, fmt.Errorf("agentcli: capability %s timed out", cap)
	}
	return &InvokeResult{
		Text:              res.Text,
		CostUSD:           cost,
		SessionID:         res.SessionID,
		ExitCode:          res.ExitCode,
		PermissionDenials: res.Stream.PermissionDenials,
	}, nil
}

type runResult struct {
	Text      string
	CostUSD   float64
	SessionID string
	ExitCode  int
	Stream    *StreamResult
}

// invokeWithRetry runs one turn under the soft timeout; on soft-timeout
// expiry it retries once with exponential backoff under the hard timeout,
// observing ctx cancellation cooperatively throughout.
func (a *Adapter) invokeWithRetry(ctx context.Context, cfg AgentConfig, prompt, workDir string) (*runResult, bool, error) {
	soft := cfg.SoftTimeout
	if soft <= 0 {
		soft = 5 * time.Minute
	}
	hard := cfg.HardTimeout
	if hard <= 0 {
		hard = 2 * soft
	}

	softCtx, cancel := context.WithTimeout(ctx, soft)
	r, err := a.runTurn(softCtx, cfg, prompt, workDir)
	cancel()
	if err == nil {
		return r, false, nil
	}
	if !errors.Is(softCtx.Err(), context.DeadlineExceeded) {
		if isAgentError(r, err) {
			return nil, false, &domain.ClassifiedError{Class: domain.ClassInvalidOutput, Code: domain.CodeAgentError, Err: err}
		}
		return nil, false, err
	}

	time.Sleep(500 * time.Millisecond)

	hardCtx, cancel2 := context.WithTimeout(ctx, hard)
	defer cancel2()
	r, err = a.runTurn(hardCtx, cfg, prompt, workDir)
	if err != nil {
		if errors.Is(hardCtx.Err(), context.DeadlineExceeded) {
			return nil, true, err
		}
		return nil, false, err
	}
	return r, false, nil
}

func isAgentError(r *runResult, err error) bool {
	return r != nil && r.ExitCode != 0
}

func (a *Adapter) runTurn(ctx context.Context, cfg AgentConfig, prompt, workDir string) (*runResult, error) {
	args := buildArgs(cfg, prompt)

	cmd := exec.CommandContext(ctx, cfg.Binary, args...)
	cmd.Dir = workDir
	cmd.Env = a.buildEnv(cfg)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", cfg.Binary, err)
	}

	display := a.Display
	if display == nil {
		display = io.Discard
	}
	stream, streamErr := processStream(ctx, stdout, display, io.Discard)
	code, waitErr := exitCode(cmd.Wait())
	if waitErr != nil {
		return nil, waitErr
	}
	if streamErr != nil && ctx.Err() == nil {
		return nil, streamErr
	}

	return &runResult{Text: stream.Text, CostUSD: stream.CostUSD, SessionID: stream.SessionID, ExitCode: code, Stream: stream}, nil
}

func buildArgs(cfg AgentConfig, prompt string) []string {
	args := []string{"-p", prompt, "--output-format", "stream-json", "--verbose", "--include-partial-messages"}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}

	seen := make(map[string]bool)
	var tools []string
	for _, list := range [][]string{defaultAllowTools, cfg.AllowTools} {
		for _, t := range list {
			if !seen[t] {
				seen[t] = true
				tools = append(tools, t)
			}
		}
	}
	if len(tools) > 0 {
		args = append(args, "--allowedTools")
		args = append(args, tools...)
	}
	args = append(args, cfg.ExtraArgs...)
	return args
}

// buildEnv strips CLAUDECODE* from the inherited environment so nested
// invocations never trip the guard the CLI entrypoint enforces on itself,
// and snapshots it once per adapter instance.
func (a *Adapter) buildEnv(cfg AgentConfig) []string {
	if a.filteredEnv == nil {
		for _, e := range os.Environ() {
			key := strings.SplitN(e, "=", 2)[0]
			if strings.HasPrefix(key, "CLAUDECODE") {
				continue
			}
			a.filteredEnv = append(a.filteredEnv, e)
		}
	}
	out := make([]string, len(a.filteredEnv), len(a.filteredEnv)+2)
	copy(out, a.filteredEnv)
	out = append(out, "CONDUCTOR_CAPABILITY="+string(cfg.Capability), "CONDUCTOR_AGENT_ID="+cfg.AgentID)
	return out
}

// ParsePlan validates raw writer output against the plan schema.
func ParsePlan(text string) (*domain.Plan, error) {
	var p domain.Plan
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &p); err != nil {
		return nil, fmt.Errorf("parsing plan JSON: %w", err)
	}
	if err := validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("plan failed schema validation: %w", err)
	}
	for i := range p.Tasks {
		if err := validate.Struct(&p.Tasks[i]); err != nil {
			return nil, fmt.Errorf("task %s failed schema validation: %w", p.Tasks[i].ID, err)
		}
	}
	return &p, nil
}

// ParseReviewerArtifact validates a reviewer's output against the reviewer
// schema, stripping a bare fence first when the capability config
// says the agent wraps its JSON (the architecture reviewer, by default).
func ParseReviewerArtifact(text string, stripFence bool) (*domain.ReviewerArtifact, error) {
	if stripFence {
		text = fileblocks.StripFence(text)
	}
	var a domain.ReviewerArtifact
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &a); err != nil {
		return nil, fmt.Errorf("parsing reviewer artifact JSON: %w", err)
	}
	if err := validate.Struct(&a); err != nil {
		return nil, fmt.Errorf("reviewer artifact failed schema validation: %w", err)
	}
	return &a, nil
}

// PromptPath returns the artifacts-relative path the rendered prompt for a
// given phase/capability was saved under.
func PromptPath(artifactsDir string, phase domain.Phase, cap Capability) string {
	return filepath.Join(artifactsDir, "prompts", fmt.Sprintf("phase-%d-%s.md", int(phase), cap))
}
