package domain

import "time"

// EngineConfig bounds every execution unless the workflow's own limits
// override them with something stricter.
type EngineConfig struct {
	MaxOperations        int
	MaxLoopIterations    int
	MaxLoopDepth         int
	MaxParallelism       int
	ExecutionTimeout     time.Duration
	ExpressionTimeout    time.Duration
	MaxDelay             time.Duration
	DefaultActionTimeout time.Duration
	FailurePolicy        FailurePolicy
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxOperations:        1000,
		MaxLoopIterations:    1000,
		MaxLoopDepth:         8,
		MaxParallelism:       10,
		ExecutionTimeout:     10 * time.Minute,
		ExpressionTimeout:    5 * time.Second,
		MaxDelay:             5 * time.Minute,
		DefaultActionTimeout: 30 * time.Second,
		FailurePolicy:        FailurePolicyFailFast,
	}
}

// SchedulerConfig controls the schedule service's background loop.
type SchedulerConfig struct {
	CheckInterval time.Duration
	// GracePeriod is the window after a missed next-run within which the run
	// still fires; beyond it the run is skipped to avoid backlog storms.
	GracePeriod  time.Duration
	DrainTimeout time.Duration
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		CheckInterval: time.Minute,
		GracePeriod:   5 * time.Minute,
		DrainTimeout:  30 * time.Second,
	}
}

// ValidatorLimits are the structural ceilings the validator enforces.
type ValidatorLimits struct {
	MaxNodes         int
	MaxDepth         int
	RecommendedDepth int
}

func DefaultValidatorLimits() ValidatorLimits {
	return ValidatorLimits{
		MaxNodes:         200,
		MaxDepth:         50,
		RecommendedDepth: 20,
	}
}
