// Package gatherer delivers run progress to interested parties.
package gatherer

import (
	"time"

	"github.com/programme-lv/grader/api"
)

// Observer is told about every status a run enters and about its final
// state. Implementations must not block for long; they run on the worker
// executing the run.
type Observer interface {
	StatusChanged(run api.Run, status api.Status, at time.Time)
	Finished(run api.Run)
}

type nop struct{}

func (nop) StatusChanged(api.Run, api.Status, time.Time) {}
func (nop) Finished(api.Run)                             {}

// Nop returns an Observer that ignores everything.
func Nop() Observer { return nop{} }

type multi []Observer

// Multi fans events out to every non-nil observer in order.
func Multi(observers ...Observer) Observer {
	var m multi
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

func (m multi) StatusChanged(run api.Run, status api.Status, at time.Time) {
	for _, o := range m {
		o.StatusChanged(run, status, at)
	}
}

func (m multi) Finished(run api.Run) {
	for _, o := range m {
		o.Finished(run)
	}
}
