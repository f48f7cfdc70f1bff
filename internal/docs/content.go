package docs

var topics = []Topic{
	{
		Name:    "quickstart",
		Title:   "Quick Start",
		Summary: "Getting started with conductor",
		Content: topicQuickstart,
	},
	{
		Name:    "config",
		Title:   "Configuration Reference",
		Summary: "Config file schema, fields, and defaults",
		Content: topicConfig,
	},
	{
		Name:    "phases",
		Title:   "The Five Phases",
		Summary: "Planning, validation, implementation, verification, completion",
		Content: topicPhases,
	},
	{
		Name:    "budget",
		Title:   "Budget Ceilings",
		Summary: "Per-task and per-project cost limits, and what happens at the ceiling",
		Content: topicBudget,
	},
	{
		Name:    "review",
		Title:   "Four-Eyes Review",
		Summary: "Security and architecture review, loop-backs, and escalation",
		Content: topicReview,
	},
	{
		Name:    "control",
		Title:   "Control Surface",
		Summary: "start, resume, status, rollback, cancel — CLI and HTTP",
		Content: topicControl,
	},
	{
		Name:    "artifacts",
		Title:   "Phase Outputs and Worktrees",
		Summary: "What gets persisted for a workflow and where implementation happens",
		Content: topicArtifacts,
	},
}

const topicQuickstart = `Quick Start
===========

1. Initialize a project:

    cd your-project
    conductor init

   This creates .conductor/config.yaml and default prompt templates
   under .conductor/prompts/.

2. Edit .conductor/config.yaml: set real binaries and models for all
   four agent capabilities (produce_plan, implement_task,
   review_security, review_architecture). review_security and
   review_architecture must name different agent_ids — conductor
   refuses to run otherwise.

3. Start a workflow:

    conductor start my-project "add OAuth login to the API"

4. Check progress:

    conductor status <workflow-id>

5. If conductor pauses for input (a review escalation, a budget
   ceiling, a failed task), resolve it and resume:

    conductor resume <workflow-id> --action approve
    conductor resume <workflow-id> --action retry

CLI Commands
------------

  conductor init                          Scaffold .conductor/
  conductor start <project> <request>     Start a new workflow
  conductor resume <id> --action ACTION   Resume a paused workflow
  conductor status <id>                   Show workflow status
  conductor status <partial>              Fuzzy-match a partial id or project name
  conductor rollback <id> --seq N         Rewind to an earlier checkpoint
  conductor cancel <id>                   Cooperatively stop a workflow
  conductor doctor <id>                   Diagnose a stuck or failed workflow
  conductor serve                         Run the HTTP control surface
  conductor docs                          List documentation topics
  conductor docs <topic>                  Show a documentation topic

ACTION is one of retry, approve, abort.
`

const topicConfig = `Configuration Reference
=======================

conductor reads .conductor/config.yaml, overlaid with CONDUCTOR_-prefixed
environment variables (dots become underscores: CONDUCTOR_BUDGET_PER_TASK
for budget.per_task). Every command, conductor serve included, reads the
file once at startup; edits take effect the next time a command starts.

Top-level fields
----------------

  store.dsn            string   Path to the workflow store. Default: .conductor/state.db
  budget.per_task       float   Per-task cost ceiling in dollars. 0 disables the check.
  budget.per_project    float   Per-project cost ceiling in dollars. 0 disables the check.
  budget.ledger_path    string  Path to the budget ledger. Default: .conductor/budget.json
  concurrency           int     Max tasks implemented in parallel. Default: 4
  iteration_cap         int     Max driver loop iterations; once reached the driver stops advancing the workflow. Default: 50
  worktree.base_dir     string  Directory under which per-task git worktrees are created.
  log.level             string  debug, info, warn, or error. Default: info
  server.addr           string  Listen address for conductor serve. Default: :8088

agents (map, required)
-----------------------

One entry per capability: produce_plan, implement_task, review_security,
review_architecture. All four must be bound before conductor start will
run a workflow.

  agent_id           string    Identifies the agent for the four-eyes check.
  binary             string    Required. The CLI to invoke (e.g. claude, gemini).
  model              string    Model name passed to the binary.
  allow_tools        list      Tools the agent is permitted to use.
  extra_args         list      Additional CLI arguments.
  soft_timeout       duration  Per-attempt limit, e.g. 5m. An attempt past it is stopped and retried once.
  hard_timeout       duration  Kill threshold. Must exceed soft_timeout.
  budget_estimate    float     Expected cost, used for pre-debit budget checks.
  strip_fence        bool      Strip a leading/trailing markdown code fence from output.

Validation Rules
----------------

- store.dsn and worktree.base_dir are required.
- concurrency and iteration_cap must be >= 1.
- budget.per_task and budget.per_project must be >= 0, and per_task must
  not exceed per_project when both are set.
- All four capabilities must be bound, each with a non-empty binary and
  agent_id.
- A binding's soft_timeout must be less than its hard_timeout.
- review_security.agent_id must differ from review_architecture.agent_id
  (the four-eyes protocol requires two distinct reviewers).

conductor init writes a starter config that already satisfies every one
of these rules except real binaries and models — see the quickstart
topic.
`

const topicPhases = `The Five Phases
===============

A workflow moves through five phases in order, looping back within
validation, implementation, and verification as needed:

  1. planning        One produce_plan-capability agent turns the feature
                      request into a plan and a task breakdown.
  2. validation       Two independent agents (review_security and
                      review_architecture) review the plan. A
                      needs_changes verdict sends the workflow back to
                      planning (autonomous mode) or pauses it for a
                      human (interactive mode); the third needs_changes
                      fails the workflow. A rejection fails it at once;
                      an escalation pauses it in either mode.
  3. implementation   Tasks are implemented, respecting each task's
                      declared dependencies and the configured
                      concurrency limit. Each task runs in its own git
                      worktree so parallel tasks can't collide. A task
                      gets up to 3 attempts before it's marked failed;
                      the workflow then pauses for a human decision
                      (interactive mode) or fails (autonomous mode).
  4. verification     The same two reviewers review the complete change
                      set and their verdicts are arbitrated as in
                      validation. A needs_changes verdict loops back to
                      implementation, capped at 3 loop-backs.
  5. completion        A summary of what was built is recorded and the
                      workflow reaches a terminal state.

Every phase transition is persisted as a checkpoint before conductor
considers the phase complete, so a killed process resumes exactly where
it left off rather than re-running a phase that already produced output.
`

const topicBudget = `Budget Ceilings
===============

budget.per_task and budget.per_project in .conductor/config.yaml (and
each agent binding's budget_estimate) bound what a workflow is allowed
to spend.

Pre-debit and commit
---------------------

Before invoking an agent, conductor pre-debits its budget_estimate
against both ceilings. If the pre-debit would exceed either ceiling,
the invocation is denied before any agent process starts — a workflow
never overspends waiting to find out a call was too expensive after the
fact. Once the agent finishes, the ledger is corrected to the real
reported cost (which can be lower or higher than the estimate).

What happens at the ceiling
----------------------------

A denied pre-debit is a BUDGET_EXCEEDED error from that agent call, and
the phase handles it like any other failed call:

  planning         the workflow fails.
  review           the denied reviewer counts as missing, so the review
                   escalates and the workflow pauses.
  implementation   the denial uses up one of the task's 3 attempts; a
                   task that runs out of attempts pauses the workflow
                   (interactive mode) or fails it (autonomous mode).

After raising budget.per_task/budget.per_project, continue a paused
workflow with:

  conductor resume <id> --action retry

or --action abort to give up on the workflow.

Ledger persistence
-------------------

Running totals are kept at budget.ledger_path (default
.conductor/budget.json) so ceilings are enforced across process
restarts, not just within a single conductor invocation.
`

const topicReview = `Four-Eyes Review
================

Every plan is reviewed by two independent agents before implementation
starts: review_security and review_architecture. Config validation
requires their agent_id values to differ — the same agent reviewing
its own capability twice would defeat the point of a second opinion.

Loop-backs
----------

If either reviewer returns needs_changes, the workflow loops back to
planning with the reviewer's feedback attached to the next planning
turn's context. In interactive mode the workflow first pauses and waits
for --action retry before looping back. validation_iterations in
conductor status counts these verdicts; the third one fails the workflow
rather than looping indefinitely.

Escalation
----------

When the two reviewers disagree with no clear domain winner, or a
reviewer returns no usable verdict, the workflow pauses with an
escalation interrupt. Resolve it with:

  conductor resume <id> --action approve   accept the plan as-is
  conductor resume <id> --action retry     give planning one more turn
  conductor resume <id> --action abort     stop the workflow

Verification (phase 4) applies the same consolidated-feedback and
loop-back-cap shape to the completed implementation instead of the
plan.
`

const topicControl = `Control Surface
===============

The same five operations are available as CLI commands and as an HTTP
API (conductor serve), both backed by the same driver:

  start      conductor start <project> <request>
             POST /workflows/{id}/start
  resume     conductor resume <id> --action ACTION [--note TEXT]
             POST /workflows/{id}/resume
  status     conductor status <id>
             GET  /workflows/{id}
  rollback   conductor rollback <id> --seq N
             POST /workflows/{id}/rollback
  cancel     conductor cancel <id>
             POST /workflows/{id}/cancel

All five are idempotent: starting an id that already exists returns its
current state rather than creating a second workflow, and resuming a
workflow with no pending interrupt is a no-op.

Result codes / HTTP status
--------------------------

The control surface classifies each operation's outcome with one of
these codes, and conductor serve maps them to an HTTP status:

  0   completed                  200 OK
  2   paused for input           200 OK
  3   failed                     500 Internal Server Error
  4   budget exceeded            402 Payment Required
  5   storage unavailable        503 Service Unavailable
  6   busy (workflow locked)     409 Conflict

The conductor CLI does not exit with these codes: it exits 0 when a
command succeeds and 1 when it returns an error.

Rollback returns 409 Conflict (CLI: a BUSY error) if a task is currently
in progress — rolling back underneath a running implementation would
leave its worktree and budget ledger entries inconsistent with the
checkpoint being restored.

conductor status fuzzy-matches its argument, when it is not an exact id,
against every stored workflow's id and project name, so you don't need
to copy a full id to check on a workflow. The argument is required.
`

const topicArtifacts = `Phase Outputs and Worktrees
===========================

Everything a workflow produces is written to the store
(store.dsn, default .conductor/state.db), not to loose files in the
project tree: plans, review feedback, implementation results, and the
completion summary are all phase outputs keyed by workflow id, phase,
and output type.

Phase outputs
-------------

Each phase appends one or more typed outputs as it runs — a plan,
security/architecture feedback, an implementation result, consolidated
verification feedback, a completion summary. conductor doctor reads the
most recent output for the current phase (truncated to a bounded size)
when diagnosing a stuck workflow. A checkpoint snapshots the workflow
record itself; rollback restores that record, and outputs appended after
the checkpoint stay in the store and are still what a query by type
returns.

Worktrees
---------

Each implementation task runs in its own git worktree under
worktree.base_dir, branched off the workflow's feature branch. This is
what lets independent tasks implement in parallel (up to concurrency at
once) without one task's in-progress edits being visible to another's
agent process. A task's worktree path is recorded on the task record so
conductor doctor can point a human at exactly where a failed task's
changes live.
`
