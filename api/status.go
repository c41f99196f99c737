package api

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Status is the state of a Run. Statuses are written in the order they are
// declared below; every terminal status starts with "complete".
type Status string

const (
	StatusQueued            Status = "queued"
	StatusInitializingEnv   Status = "initializing_env"
	StatusInitializingBuild Status = "initializing_build"
	StatusBuilding          Status = "building"
	StatusInitializingRun   Status = "initializing_run"
	StatusRunning           Status = "running"
	StatusReporting         Status = "reporting"
	StatusCleaningUp        Status = "cleaning_up"
	StatusSaving            Status = "saving"
	StatusComplete          Status = "complete"
)

// Stage names a unit of work whose failure is reflected in a terminal status.
type Stage string

const (
	StageEnv          Stage = "env"
	StageBuilderSetup Stage = "builder_setup"
	StageBuilderBuild Stage = "builder_build"
	StageTesterSetup  Stage = "tester_setup"
	StageTesterRun    Stage = "tester_run"
	StageReporter     Stage = "reporter"
)

var Stages = []Stage{
	StageEnv,
	StageBuilderSetup,
	StageBuilderBuild,
	StageTesterSetup,
	StageTesterRun,
	StageReporter,
}

const completePrefix = "complete"

// ErrorStatus is the terminal status of a stage that finished with a failing result.
func ErrorStatus(stage Stage) Status {
	return Status(completePrefix + "-error-" + string(stage))
}

// ExceptionStatus is the terminal status of a stage that could not finish at all.
func ExceptionStatus(stage Stage) Status {
	return Status(completePrefix + "-exception-" + string(stage))
}

var progress = []Status{
	StatusQueued,
	StatusInitializingEnv,
	StatusInitializingBuild,
	StatusBuilding,
	StatusInitializingRun,
	StatusRunning,
	StatusReporting,
	StatusCleaningUp,
	StatusSaving,
}

var known = func() mapset.Set[Status] {
	s := mapset.NewSet(progress...)
	s.Add(StatusComplete)
	for _, stage := range Stages {
		s.Add(ErrorStatus(stage))
		s.Add(ExceptionStatus(stage))
	}
	return s
}()

// Statuses lists every valid status.
func Statuses() []Status {
	return known.ToSlice()
}

// Valid reports whether s is one of the enumerated statuses.
func (s Status) Valid() bool {
	return known.Contains(s)
}

// IsTerminal reports whether no further transitions can follow s.
func (s Status) IsTerminal() bool {
	return s.Valid() && strings.HasPrefix(string(s), completePrefix)
}

// IsException reports whether s is a complete-exception-* status.
func (s Status) IsException() bool {
	return s.IsTerminal() && strings.HasPrefix(string(s), completePrefix+"-exception-")
}

// Rank orders non-terminal statuses by their position in the pipeline.
// Terminal statuses rank after all others.
func (s Status) Rank() int {
	for i, p := range progress {
		if p == s {
			return i
		}
	}
	if s.IsTerminal() {
		return len(progress)
	}
	return -1
}
