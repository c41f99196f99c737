package gatherer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/programme-lv/grader/api"
)

// Sender is the part of the SQS API the result observer needs.
type Sender interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQS sends the final state of every run to a result queue. Intermediate
// statuses are not sent.
type SQS struct {
	client   Sender
	queueURL string
	timeout  time.Duration
	logger   *slog.Logger
}

func NewSQS(client Sender, queueURL string, logger *slog.Logger) *SQS {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQS{client: client, queueURL: queueURL, timeout: 30 * time.Second, logger: logger}
}

func (s *SQS) StatusChanged(api.Run, api.Status, time.Time) {}

func (s *SQS) Finished(run api.Run) {
	msg := api.NewRunFinish(run)
	msg.Output = trimStrToRect(msg.Output, MaxOutputHeight, MaxOutputWidth)
	b, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("failed to marshal message", slog.Any("error", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(b)),
	})
	if err != nil {
		s.logger.Warn("failed to send run result",
			slog.String("run_id", run.ID), slog.Any("error", err))
	}
}
