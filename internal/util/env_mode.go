package util

// EnvMode controls how a task's environment variables are resolved before
// hashing and execution.
type EnvMode string

const (
	// Infer means the task's env handling hasn't been resolved to Strict or
	// Loose yet. A task hash must never be computed while still Infer.
	Infer EnvMode = "infer"
	// Loose means pass_through_env is ignored: the task inherits the full
	// ambient environment, and only the explicit and wildcard-matched
	// variables are counted as hash inputs.
	Loose EnvMode = "loose"
	// Strict means only explicit env/pass_through_env entries are visible
	// to the task and counted as hash inputs.
	Strict EnvMode = "strict"
)
