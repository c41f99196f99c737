package gatherer

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/programme-lv/grader/api"
)

// Terminal prints run progress for a person watching a terminal.
type Terminal struct {
	mu        sync.Mutex
	out       io.Writer
	startedAt map[string]time.Time
}

func NewTerminal(out io.Writer) *Terminal {
	return &Terminal{out: out, startedAt: make(map[string]time.Time)}
}

func (t *Terminal) StatusChanged(run api.Run, status api.Status, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.startedAt[run.ID]; !ok {
		t.startedAt[run.ID] = at
	}
	fmt.Fprintf(t.out, "%s %s\n", color.HiBlackString("[%s]", shortID(run.ID)), status)
}

func (t *Terminal) Finished(run api.Run) {
	t.mu.Lock()
	defer t.mu.Unlock()
	dur := time.Duration(0)
	if start, ok := t.startedAt[run.ID]; ok {
		dur = time.Since(start).Round(time.Millisecond)
		delete(t.startedAt, run.ID)
	}

	paint := color.GreenString
	switch {
	case run.Status.IsException():
		paint = color.RedString
	case run.Status != api.StatusComplete:
		paint = color.YellowString
	}
	score := "-"
	if run.Score != nil {
		score = api.FormatScore(*run.Score)
	}
	fmt.Fprintf(t.out, "%s %s retcode=%d score=%s in %s\n",
		color.HiBlackString("[%s]", shortID(run.ID)), paint("%s", run.Status), run.Retcode, score, dur)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
