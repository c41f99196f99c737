package gatherer

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/programme-lv/grader/api"
)

// Streamed output is cut to fit a rectangle of this many lines and columns.
const (
	MaxOutputHeight = 100
	MaxOutputWidth  = 200
)

// Publisher is the part of *nats.Conn the NATS observer needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes status events as JSON on <subject>.<run id>.
type NATS struct {
	pub     Publisher
	subject string
	logger  *slog.Logger
}

func NewNATS(pub Publisher, subject string, logger *slog.Logger) *NATS {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATS{pub: pub, subject: subject, logger: logger}
}

// Dial connects to a NATS server, reconnecting for as long as the process
// runs.
func Dial(url string, logger *slog.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("grader"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
}

func (n *NATS) StatusChanged(run api.Run, status api.Status, at time.Time) {
	n.send(run.ID, api.NewStatusEvent(run, status, at))
}

func (n *NATS) Finished(run api.Run) {
	msg := api.NewRunFinish(run)
	msg.Output = trimStrToRect(msg.Output, MaxOutputHeight, MaxOutputWidth)
	n.send(run.ID, msg)
}

func (n *NATS) send(runID string, msg any) {
	b, err := json.Marshal(msg)
	if err != nil {
		n.logger.Error("failed to marshal message", slog.Any("error", err))
		return
	}
	if err := n.pub.Publish(n.subject+"."+runID, b); err != nil {
		n.logger.Warn("failed to publish message to NATS",
			slog.String("run_id", runID), slog.Any("error", err))
	}
}

func trimStrToRect(s string, maxHeight int, maxWidth int) string {
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > maxHeight {
		lines = lines[:maxHeight]
		lines = append(lines, "[...]")
	}
	for i, line := range lines {
		if r := []rune(line); len(r) > maxWidth {
			lines[i] = string(r[:maxWidth]) + "[...]"
		}
	}
	return strings.Join(lines, "\n")
}
