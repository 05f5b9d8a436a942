package workflow

import "fmt"

// Stage is the position of a run in the workflow.
type Stage string

const (
	StageUnauthenticated Stage = "unauthenticated"
	StageAuthenticated   Stage = "authenticated"
	StageRepoSelected    Stage = "repo_selected"
	StageFilesSelected   Stage = "files_selected"
	StageSummariesReady  Stage = "summaries_ready"
	StageCodeReady       Stage = "code_ready"
	StagePublished       Stage = "published"
)

var stageOrder = map[Stage]int{
	StageUnauthenticated: 0,
	StageAuthenticated:   1,
	StageRepoSelected:    2,
	StageFilesSelected:   3,
	StageSummariesReady:  4,
	StageCodeReady:       5,
	StagePublished:       6,
}

// ParseStage validates a stage name.
func ParseStage(s string) (Stage, error) {
	st := Stage(s)
	if _, ok := stageOrder[st]; !ok {
		return "", fmt.Errorf("unknown stage %q", s)
	}
	return st, nil
}

// Before reports whether s comes strictly before other.
func (s Stage) Before(other Stage) bool {
	return stageOrder[s] < stageOrder[other]
}

// AtLeast reports whether s is other or later.
func (s Stage) AtLeast(other Stage) bool {
	return stageOrder[s] >= stageOrder[other]
}
