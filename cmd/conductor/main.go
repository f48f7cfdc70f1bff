// Command conductor is the CLI entrypoint wiring internal/config,
// internal/driver, and internal/control into the five control-surface
// operations plus init/doctor/docs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/conductor-sdlc/conductor/internal/agentcli"
	"github.com/conductor-sdlc/conductor/internal/budget"
	"github.com/conductor-sdlc/conductor/internal/config"
	"github.com/conductor-sdlc/conductor/internal/control"
	"github.com/conductor-sdlc/conductor/internal/doctor"
	"github.com/conductor-sdlc/conductor/internal/docs"
	"github.com/conductor-sdlc/conductor/internal/driver"
	"github.com/conductor-sdlc/conductor/internal/obslog"
	"github.com/conductor-sdlc/conductor/internal/phasefsm"
	"github.com/conductor-sdlc/conductor/internal/scaffold"
	"github.com/conductor-sdlc/conductor/internal/store"
	"github.com/conductor-sdlc/conductor/internal/ux"
	"github.com/conductor-sdlc/conductor/internal/worktree"
)

func main() {
	app := &cli.Command{
		Name:        "conductor",
		Usage:       "Deterministic five-phase SDLC orchestrator",
		Description: "Run 'conductor docs' for documentation on configuration, phases, budget, and review.",
		Commands: []*cli.Command{
			initCmd(),
			startCmd(),
			resumeCmd(),
			statusCmd(),
			rollbackCmd(),
			cancelCmd(),
			doctorCmd(),
			serveCmd(),
			docsCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%serror:%s %v\n", ux.Red, ux.Reset, err)
		os.Exit(1)
	}
}

// env bundles everything a command needs once its config is loaded and
// validated: the store, the driver, and the obslog sink, all pointed at
// the same project root.
type env struct {
	projectRoot string
	cfg         *config.Config
	store       *store.Store
	driver      *driver.Driver
	logger      *obslog.Logger
}

func (e *env) Close() {
	if e.logger != nil {
		e.logger.Close()
	}
	if e.store != nil {
		e.store.Close()
	}
}

// newEnv loads and validates the project config, then wires the store,
// budget ledger, worktree manager, and agent adapter into a Driver.
// Centralized here since every mutating command needs the identical
// wiring.
func newEnv(ctx context.Context) (*env, error) {
	projectRoot, err := findProjectRoot()
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(projectRoot, ".conductor", "config.yaml")
	cfg, err := config.NewLoader().WithConfigFile(configPath).Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	st, err := store.Open(resolvePath(projectRoot, cfg.Store.DSN))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	logger, err := obslog.New(filepath.Join(projectRoot, ".conductor"))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("opening log: %w", err)
	}

	ledger, err := budget.NewLedger(st, resolvePath(projectRoot, cfg.Budget.LedgerPath), cfg.Ceilings())
	if err != nil {
		logger.Close()
		st.Close()
		return nil, fmt.Errorf("opening budget ledger: %w", err)
	}

	adapter := &agentcli.Adapter{
		Configs: cfg.AgentConfigs(),
		Budget:  ledger,
		Display: os.Stdout,
	}
	worktrees := &worktree.Manager{
		RepoRoot: projectRoot,
		BaseDir:  resolvePath(projectRoot, cfg.Worktree.BaseDir),
	}
	d := &driver.Driver{
		Store: st,
		Deps: &phasefsm.Deps{
			Adapter:     adapter,
			Store:       st,
			Worktrees:   worktrees,
			Concurrency: cfg.Concurrency,
			RepoRoot:    projectRoot,
			BaseCommit:  "HEAD",
			Display:     os.Stdout,
		},
		MaxIterations: cfg.IterationCap,
		Logger:        logger,
	}

	return &env{projectRoot: projectRoot, cfg: cfg, store: st, driver: d, logger: logger}, nil
}

func resolvePath(projectRoot, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(projectRoot, p)
}

func initCmd() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Scaffold a new .conductor/ directory",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dir, err := os.Getwd()
			if err != nil {
				return err
			}
			return scaffold.Init(ctx, dir)
		},
	}
}

func startCmd() *cli.Command {
	return &cli.Command{
		Name:      "start",
		Usage:     "Start a new workflow",
		ArgsUsage: "<project> <feature request>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "autonomous", Usage: "Loop back on validation needs_changes and fail on task failure instead of pausing"},
			&cli.BoolFlag{Name: "skip-validation", Usage: "Treat the plan as pre-approved and skip review"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if os.Getenv("CLAUDECODE") != "" {
				return fmt.Errorf("conductor cannot run inside Claude Code (CLAUDECODE env var is set). Run from a regular terminal")
			}
			if cmd.Args().Len() < 2 {
				return fmt.Errorf("usage: conductor start <project> <feature request>")
			}
			project, featureRequest := cmd.Args().Get(0), cmd.Args().Get(1)

			e, err := newEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
			defer stop()

			surface := &control.Surface{Driver: e.driver}
			id := workflowID(project, featureRequest)
			resp, _, err := surface.Start(ctx, id, control.StartRequest{
				Project:        project,
				FeatureRequest: featureRequest,
				SkipValidation: cmd.Bool("skip-validation"),
				Autonomous:     cmd.Bool("autonomous"),
			})
			if err != nil {
				return err
			}
			fmt.Printf("workflow %s accepted\n", resp.WorkflowID)
			return printStatus(ctx, e, resp.WorkflowID)
		},
	}
}

func resumeCmd() *cli.Command {
	return &cli.Command{
		Name:      "resume",
		Usage:     "Resume a paused workflow",
		ArgsUsage: "<workflow-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "action", Usage: "retry | approve | abort", Required: true},
			&cli.StringFlag{Name: "note", Usage: "Free-form note sent with the decision (not passed to any agent)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return fmt.Errorf("workflow-id argument is required")
			}
			e, err := newEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			surface := &control.Surface{Driver: e.driver}
			_, _, err = surface.Resume(ctx, id, control.ResumeRequest{
				Decision: driver.Decision{Action: cmd.String("action"), Note: cmd.String("note")},
			})
			if err != nil {
				return err
			}
			return printStatus(ctx, e, id)
		},
	}
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show workflow status",
		ArgsUsage: "<workflow-id or partial match>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := newEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			query := cmd.Args().First()
			id, err := resolveWorkflowID(ctx, e, query)
			if err != nil {
				return err
			}
			return printStatus(ctx, e, id)
		},
	}
}

func rollbackCmd() *cli.Command {
	return &cli.Command{
		Name:      "rollback",
		Usage:     "Rewind a workflow to an earlier checkpoint",
		ArgsUsage: "<workflow-id>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "seq", Usage: "Checkpoint sequence to restore", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return fmt.Errorf("workflow-id argument is required")
			}
			e, err := newEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			surface := &control.Surface{Driver: e.driver}
			if _, err := surface.Rollback(ctx, id, cmd.Int("seq")); err != nil {
				return err
			}
			return printStatus(ctx, e, id)
		},
	}
}

func cancelCmd() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Cooperatively stop a workflow",
		ArgsUsage: "<workflow-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return fmt.Errorf("workflow-id argument is required")
			}
			e, err := newEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			surface := &control.Surface{Driver: e.driver}
			if _, _, err := surface.Cancel(ctx, id); err != nil {
				return err
			}
			return printStatus(ctx, e, id)
		},
	}
}

func doctorCmd() *cli.Command {
	return &cli.Command{
		Name:      "doctor",
		Usage:     "Diagnose a stuck or failed workflow",
		ArgsUsage: "<workflow-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return fmt.Errorf("workflow-id argument is required")
			}
			e, err := newEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			return doctor.Run(ctx, e.store, e.driver.Deps.Adapter, id)
		},
	}
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP control surface",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := newEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
			defer stop()

			surface := &control.Surface{Driver: e.driver}
			server := control.NewServer(surface)
			return server.ListenAndServe(ctx, e.cfg.Server.Addr)
		},
	}
}

func docsCmd() *cli.Command {
	return &cli.Command{
		Name:      "docs",
		Usage:     "Show documentation",
		ArgsUsage: "[topic]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			name := cmd.Args().First()
			if name == "" {
				fmt.Print("\nAvailable topics:\n\n")
				for _, t := range docs.All() {
					fmt.Printf("  %-14s %s\n", t.Name, t.Summary)
				}
				fmt.Println("\nRun 'conductor docs <topic>' to read a topic.")
				return nil
			}
			t, err := docs.Get(name)
			if err != nil {
				return err
			}
			fmt.Print(t.Content)
			return nil
		},
	}
}

// printStatus renders the current status for id, fetched fresh from the
// store so a just-mutated workflow is reported accurately.
func printStatus(ctx context.Context, e *env, id string) error {
	w, err := e.store.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("loading workflow %s: %w", id, err)
	}
	ux.RenderStatus(w)
	return nil
}

// resolveWorkflowID fuzzy-matches query against every known workflow id
// and project/feature-request title when it isn't an exact id, so an
// operator can type a partial id instead of copying a full one.
func resolveWorkflowID(ctx context.Context, e *env, query string) (string, error) {
	if query == "" {
		return "", fmt.Errorf("workflow-id argument is required")
	}
	workflows, err := e.store.ListWorkflows(ctx)
	if err != nil {
		return "", fmt.Errorf("listing workflows: %w", err)
	}
	w := ux.FindWorkflow(query, workflows)
	if w == nil {
		return "", fmt.Errorf("no workflow matches %q", query)
	}
	return w.ID, nil
}

// workflowID derives a stable id for a newly started workflow from its
// project and feature request, so re-running conductor start with the
// same arguments is idempotent rather than creating a new workflow each
// time.
func workflowID(project, featureRequest string) string {
	h := fnv32a(project + "\x00" + featureRequest)
	return fmt.Sprintf("%s-%08x", project, h)
}

func fnv32a(s string) uint32 {
	const offset32 = 2166136261
	const prime32 = 16777619
	hash := uint32(offset32)
	for i := 0; i < len(s); i++ {
		hash ^= uint32(s[i])
		hash *= prime32
	}
	return hash
}

// findProjectRoot walks up from cwd looking for .conductor/config.yaml.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		configPath := filepath.Join(dir, ".conductor", "config.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no .conductor/config.yaml found (searched from cwd to root) — run 'conductor init' first")
		}
		dir = parent
	}
}
