package gatherer

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/programme-lv/grader/api"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{subject, data})
	return f.err
}

type recorder struct {
	statuses []api.Status
	finished int
}

func (r *recorder) StatusChanged(_ api.Run, s api.Status, _ time.Time) {
	r.statuses = append(r.statuses, s)
}

func (r *recorder) Finished(api.Run) { r.finished++ }

func TestNATSPublishesEvents(t *testing.T) {
	pub := &fakePublisher{}
	obs := NewNATS(pub, "grader.runs", nil)

	run := api.Run{ID: "r1", SubmissionID: "s1", TestID: "t1"}
	obs.StatusChanged(run, api.StatusRunning, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	score := 2.5
	run.Status = api.StatusComplete
	run.Score = &score
	obs.Finished(run)

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "grader.runs.r1", pub.msgs[0].subject)

	var ev api.StatusEvent
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &ev))
	assert.Equal(t, api.StatusChangeMsg, ev.MsgType)
	assert.Equal(t, api.StatusRunning, ev.Status)
	assert.Equal(t, "s1", ev.SubmissionID)

	var fin api.RunFinish
	require.NoError(t, json.Unmarshal(pub.msgs[1].data, &fin))
	assert.Equal(t, api.RunFinishMsg, fin.MsgType)
	require.NotNil(t, fin.Score)
	assert.Equal(t, "2.5", *fin.Score)
}

func TestNATSPublishFailureIsNotFatal(t *testing.T) {
	pub := &fakePublisher{err: errors.New("disconnected")}
	obs := NewNATS(pub, "runs", nil)
	obs.StatusChanged(api.Run{ID: "r1"}, api.StatusQueued, time.Now())
	assert.Len(t, pub.msgs, 1)
}

func TestTrimStrToRect(t *testing.T) {
	assert.Equal(t, "", trimStrToRect("", 2, 3))
	assert.Equal(t, "ab\ncd", trimStrToRect("ab\ncd", 2, 3))
	assert.Equal(t, "abc[...]\nx\n[...]", trimStrToRect("abcdef\nx\ny", 2, 3))
}

func TestMultiSkipsNil(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := Multi(a, nil, b)
	m.StatusChanged(api.Run{}, api.StatusQueued, time.Now())
	m.Finished(api.Run{})
	assert.Equal(t, []api.Status{api.StatusQueued}, a.statuses)
	assert.Equal(t, []api.Status{api.StatusQueued}, b.statuses)
	assert.Equal(t, 1, b.finished)

	Nop().Finished(api.Run{})
}

func TestTerminal(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	term := NewTerminal(&buf)
	run := api.Run{ID: "0123456789abcdef"}
	term.StatusChanged(run, api.StatusRunning, time.Now())
	score := 10.0
	run.Status = api.StatusComplete
	run.Score = &score
	term.Finished(run)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[01234567] running", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "[01234567] complete retcode=0 score=10 in "))
}
