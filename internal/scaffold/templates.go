package scaffold

const starterGitignore = "state.db\nstate.db-*\nbudget.json\nworktrees/\n"

const starterConfig = `# conductor project configuration. See conductor docs config for the
# full field reference.

store:
  dsn: .conductor/state.db

budget:
  per_task: 2.00
  per_project: 40.00
  ledger_path: .conductor/budget.json

concurrency: 4
iteration_cap: 50

worktree:
  base_dir: .conductor/worktrees

log:
  level: info

server:
  addr: ":8088"

# Every capability below must be bound before conductor start will run a
# workflow (four-eyes: review_security and review_architecture must name
# different agent_ids). Replace binary/model with the CLI and model your
# team actually runs.
agents:
  produce_plan:
    agent_id: writer
    binary: claude
    model: opus
    allow_tools: ["Read", "Glob", "Grep", "Write"]
    soft_timeout: 5m
    hard_timeout: 10m
    budget_estimate: 0.50

  implement_task:
    agent_id: writer
    binary: claude
    model: opus
    allow_tools: ["Read", "Edit", "Write", "Glob", "Grep", "Bash"]
    soft_timeout: 10m
    hard_timeout: 20m
    budget_estimate: 1.00

  review_security:
    agent_id: security-reviewer
    binary: claude
    model: sonnet
    allow_tools: ["Read", "Glob", "Grep"]
    soft_timeout: 5m
    hard_timeout: 10m
    budget_estimate: 0.30

  review_architecture:
    agent_id: architecture-reviewer
    binary: gemini
    model: gemini-2.5-pro
    allow_tools: ["Read", "Glob", "Grep"]
    soft_timeout: 5m
    hard_timeout: 10m
    budget_estimate: 0.30
`

const planPromptTemplate = `You are the planning agent for $PROJECT on $FEATURE_REQUEST.

## Instructions

1. Explore the codebase under $PROJECT_ROOT to understand the existing
   architecture and conventions.
2. Decompose the feature request into an ordered list of tasks. Each task
   needs a title, a user story, acceptance criteria, the files it creates
   or modifies, and its dependencies on other tasks.
3. Write the plan as the produce_plan output for this workflow.

Keep tasks small enough that one agent turn can implement each one.
`

const implementPromptTemplate = `You are the implementation agent for task $TASK_ID ($TASK_TITLE) on $PROJECT.

## Instructions

1. Read the task's acceptance criteria and the files it names.
2. Implement the change in the worktree at $WORKTREE_PATH.
3. Follow the existing code conventions in the surrounding files.
4. Do not touch files outside this task's declared scope without a reason
   recorded in your implementation result.
`

const reviewSecurityPromptTemplate = `You are the security reviewer for $PROJECT's current implementation.

## Instructions

1. Read the implementation result and the files it touched.
2. Look for injection, auth, secret-handling, and input-validation issues.
3. Report pass or needs_changes with concrete findings. A needs_changes
   verdict without a specific file and line is not actionable — find one.
`

const reviewArchitecturePromptTemplate = `You are the architecture reviewer for $PROJECT's current implementation.

## Instructions

1. Read the implementation result and the plan it was built from.
2. Check the change fits the existing module boundaries and doesn't
   introduce an unnecessary abstraction or skip an acceptance criterion.
3. Report pass or needs_changes with concrete findings.
`

const verifyPromptTemplate = `You are verifying the completed implementation for $PROJECT against its
original feature request.

## Instructions

1. Read the feature request and the consolidated implementation result.
2. Confirm every acceptance criterion across every task is met.
3. Report pass or needs_changes. A needs_changes verdict must point back
   to the specific task or criterion that isn't satisfied.
`

const completePromptTemplate = `You are writing the completion summary for $PROJECT's $FEATURE_REQUEST.

## Instructions

1. Summarize what was built, referencing the tasks completed.
2. Note anything a human reviewer should double check before merging.
`
