package gatherer

import (
	"log/slog"
	"time"

	"github.com/programme-lv/grader/api"
)

// Log writes run progress to a structured logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) StatusChanged(run api.Run, status api.Status, _ time.Time) {
	l.Logger.Debug("run status changed",
		slog.String("run_id", run.ID),
		slog.String("status", string(status)))
}

func (l Log) Finished(run api.Run) {
	attrs := []any{
		slog.String("run_id", run.ID),
		slog.String("status", string(run.Status)),
		slog.Int("retcode", run.Retcode),
	}
	if run.Score != nil {
		attrs = append(attrs, slog.Float64("score", *run.Score))
	}
	if run.Status.IsException() {
		l.Logger.Warn("run finished with exception", attrs...)
		return
	}
	l.Logger.Info("run finished", attrs...)
}
