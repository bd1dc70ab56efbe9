package orchestrator

// Pipeline step names, in execution order. The names are persisted as run
// checkpoints, so renaming one breaks resume for in-flight runs.
const (
	StepInitProgress     = "init_progress"
	StepCheckDuplicate   = "check_duplicate"
	StepDeductCredits    = "deduct_credits"
	StepLoadContext      = "load_context"
	StepCheckCache       = "check_cache"
	StepFetchSubject     = "fetch_subject"
	StepRunChecks        = "run_checks"
	StepScore            = "score"
	StepPersistLead      = "persist_lead"
	StepPersistResult    = "persist_result"
	StepFinalizeProgress = "finalize_progress"
)

var stepOrder = []string{
	StepInitProgress,
	StepCheckDuplicate,
	StepDeductCredits,
	StepLoadContext,
	StepCheckCache,
	StepFetchSubject,
	StepRunChecks,
	StepScore,
	StepPersistLead,
	StepPersistResult,
	StepFinalizeProgress,
}

// TotalSteps is the number of pipeline steps reported on progress states.
var TotalSteps = len(stepOrder)

func stepIndex(name string) int {
	for i, step := range stepOrder {
		if step == name {
			return i
		}
	}
	return -1
}

// progressPct maps a step to the percentage reported when the step starts.
// On a cache hit the fetch step is skipped and its weight shifts to the
// scoring step, which dominates wall time in that case.
func progressPct(step string, cacheHit bool) int {
	if cacheHit {
		switch step {
		case StepInitProgress:
			return 2
		case StepCheckDuplicate:
			return 6
		case StepDeductCredits:
			return 10
		case StepLoadContext:
			return 16
		case StepCheckCache:
			return 22
		case StepRunChecks:
			return 30
		case StepScore:
			return 40
		case StepPersistLead:
			return 85
		case StepPersistResult:
			return 92
		case StepFinalizeProgress:
			return 98
		}
		return 0
	}
	switch step {
	case StepInitProgress:
		return 2
	case StepCheckDuplicate:
		return 6
	case StepDeductCredits:
		return 10
	case StepLoadContext:
		return 14
	case StepCheckCache:
		return 18
	case StepFetchSubject:
		return 25
	case StepRunChecks:
		return 55
	case StepScore:
		return 62
	case StepPersistLead:
		return 85
	case StepPersistResult:
		return 92
	case StepFinalizeProgress:
		return 98
	}
	return 0
}
