package api

// Role keys tag the files attached to a Test or Submission.
const (
	KeySolution   = "solution"
	KeySubmission = "submission"
	KeyScript     = "script"
	KeyInput      = "input"
)

// File is an immutable stored artifact. Path is a local path or an
// http(s) URL.
type File struct {
	ID       string `json:"id" toml:"id"`
	Name     string `json:"name" toml:"name"`
	Type     string `json:"type" toml:"type"`
	Encoding string `json:"encoding" toml:"encoding"`
	Path     string `json:"path" toml:"path"`
	Key      string `json:"key" toml:"key"`
	Owner    string `json:"owner" toml:"owner"`
}

type BuilderKind string

const (
	BuilderNone    BuilderKind = "none"
	BuilderCommand BuilderKind = "command"
	BuilderMake    BuilderKind = "make"
)

type BuilderConfig struct {
	Kind BuilderKind `json:"kind" toml:"kind"`
	// Command is the build command line for the command builder.
	Command string `json:"command" toml:"command"`
	// Separator splits Command into arguments. Empty means shell-like splitting.
	Separator string `json:"separator" toml:"separator"`
}

type TesterKind string

const (
	TesterScript TesterKind = "script"
	TesterIO     TesterKind = "io"
)

type TesterConfig struct {
	Kind TesterKind `json:"kind" toml:"kind"`

	// Explicit paths override role-key discovery. Script and Solution are
	// relative to the test directory, Submission to the submission directory.
	Script     string `json:"script" toml:"script"`
	Solution   string `json:"solution" toml:"solution"`
	Submission string `json:"submission" toml:"submission"`

	// InputPrefix restricts input files to names with this prefix.
	InputPrefix string `json:"input_prefix" toml:"input_prefix"`
}

type ReporterKind string

const (
	ReporterNone   ReporterKind = "none"
	ReporterMoodle ReporterKind = "moodle"
)

type ReporterConfig struct {
	Kind ReporterKind `json:"kind" toml:"kind"`
	// AssignmentID is the assignment id in the external system.
	AssignmentID   string `json:"assignment_id" toml:"assignment_id"`
	RespectDueDate bool   `json:"respect_due_date" toml:"respect_due_date"`
}

// Limits bound each sandboxed command of a stage. Zero values fall back to
// service defaults.
type Limits struct {
	CPUSeconds  float64 `json:"cpu_seconds" toml:"cpu_seconds"`
	WallSeconds float64 `json:"wall_seconds" toml:"wall_seconds"`
}

// Or returns l with zero fields taken from def.
func (l Limits) Or(def Limits) Limits {
	if l.CPUSeconds <= 0 {
		l.CPUSeconds = def.CPUSeconds
	}
	if l.WallSeconds <= 0 {
		l.WallSeconds = def.WallSeconds
	}
	return l
}

type Test struct {
	ID           string  `json:"id" toml:"id"`
	AssignmentID string  `json:"assignment_id" toml:"assignment_id"`
	Name         string  `json:"name" toml:"name"`
	Owner        string  `json:"owner" toml:"owner"`
	MaxScore     float64 `json:"max_score" toml:"max_score"`

	Builder   BuilderConfig    `json:"builder" toml:"builder"`
	Tester    TesterConfig     `json:"tester" toml:"tester"`
	Reporters []ReporterConfig `json:"reporters" toml:"reporters"`
	Limits    Limits           `json:"limits" toml:"limits"`

	Files []File `json:"files" toml:"files"`
}

type Submission struct {
	ID           string `json:"id" toml:"id"`
	AssignmentID string `json:"assignment_id" toml:"assignment_id"`
	Owner        string `json:"owner" toml:"owner"`
	Files        []File `json:"files" toml:"files"`
}
