package api

import "time"

// MsgType is a message type for streamed status events.
type MsgType string

const (
	StatusChangeMsg MsgType = "run_status"
	RunFinishMsg    MsgType = "run_finish"
)

// Header is the common header for all streamed messages.
type Header struct {
	RunID   string  `json:"run_id"`
	MsgType MsgType `json:"msg_type"`
}

// StatusEvent is published for every status a run passes through.
type StatusEvent struct {
	Header
	SubmissionID string `json:"submission_id"`
	TestID       string `json:"test_id"`
	Status       Status `json:"status"`
	Time         string `json:"time"`
}

// RunFinish is published once, after the final state of a run is saved.
type RunFinish struct {
	Header
	Status  Status  `json:"status"`
	Retcode int     `json:"retcode"`
	Score   *string `json:"score"`
	Output  string  `json:"output"`
}

func NewHeader(runID string, msgType MsgType) Header {
	return Header{
		RunID:   runID,
		MsgType: msgType,
	}
}

func NewStatusEvent(run Run, status Status, at time.Time) StatusEvent {
	return StatusEvent{
		Header:       NewHeader(run.ID, StatusChangeMsg),
		SubmissionID: run.SubmissionID,
		TestID:       run.TestID,
		Status:       status,
		Time:         at.UTC().Format(time.RFC3339Nano),
	}
}

func NewRunFinish(run Run) RunFinish {
	var score *string
	if run.Score != nil {
		s := FormatScore(*run.Score)
		score = &s
	}
	return RunFinish{
		Header:  NewHeader(run.ID, RunFinishMsg),
		Status:  run.Status,
		Retcode: run.Retcode,
		Score:   score,
		Output:  run.Output,
	}
}

// RunRequest is the queue message asking for a submission to be graded.
type RunRequest struct {
	Test       Test       `json:"test"`
	Submission Submission `json:"submission"`
}
