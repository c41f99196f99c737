package api

import (
	"strconv"
	"time"
)

// RetcodeException is stored when a stage could not finish.
const RetcodeException = -1

// Run is one graded execution of a Submission against a Test.
type Run struct {
	ID           string `json:"id"`
	SubmissionID string `json:"submission_id"`
	TestID       string `json:"test_id"`
	AssignmentID string `json:"assignment_id"`
	Owner        string `json:"owner"`

	Status  Status   `json:"status"`
	Retcode int      `json:"retcode"`
	Score   *float64 `json:"score"`
	Output  string   `json:"output"`

	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// IsComplete reports whether the run reached a terminal status.
func (r Run) IsComplete() bool {
	return r.Status.IsTerminal()
}

// Fields returns the run as flat string fields, the form collaborators persist
// and poll. An unset score is the empty string.
func (r Run) Fields() map[string]string {
	score := ""
	if r.Score != nil {
		score = FormatScore(*r.Score)
	}
	return map[string]string{
		"id":            r.ID,
		"submission_id": r.SubmissionID,
		"test_id":       r.TestID,
		"assignment_id": r.AssignmentID,
		"owner":         r.Owner,
		"status":        string(r.Status),
		"retcode":       strconv.Itoa(r.Retcode),
		"score":         score,
		"output":        r.Output,
		"created_at":    r.CreatedAt.UTC().Format(time.RFC3339),
		"modified_at":   r.ModifiedAt.UTC().Format(time.RFC3339),
	}
}

// FormatScore renders a score with the shortest exact representation.
func FormatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}
