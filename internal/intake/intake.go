// Package intake turns run requests from an SQS queue into scheduled
// runs.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/programme-lv/grader/api"
	"github.com/programme-lv/grader/internal/scheduler"
)

// Client is the part of the SQS API the consumer uses.
type Client interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Scheduler accepts runs.
type Scheduler interface {
	ExecuteRun(ctx context.Context, test api.Test, sub api.Submission) (api.Run, error)
}

// NewClient returns an SQS client configured from the default AWS
// credential chain.
func NewClient(ctx context.Context, region string) (*sqs.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return sqs.NewFromConfig(cfg), nil
}

// Consumer long-polls a queue for api.RunRequest messages.
type Consumer struct {
	client   Client
	queueURL string
	sched    Scheduler
	logger   *slog.Logger

	// WaitSeconds is the long-poll duration.
	WaitSeconds int32
	// MaxMessages is the batch size of one receive.
	MaxMessages int32
	// Backoff is the pause after a failed receive.
	Backoff time.Duration
}

func New(client Client, queueURL string, sched Scheduler, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		client:      client,
		queueURL:    queueURL,
		sched:       sched,
		logger:      logger.With("queue", queueURL),
		WaitSeconds: 20,
		MaxMessages: 10,
		Backoff:     time.Second,
	}
}

// Run consumes messages until ctx is cancelled or the scheduler stops
// accepting runs. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consuming run requests")
	for {
		err := c.Poll(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, scheduler.ErrClosed):
			c.logger.Info("scheduler closed, stopping intake")
			return nil
		case err != nil:
			c.logger.Error("failed to receive messages", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.Backoff):
			}
		}
	}
}

// Poll receives one batch and schedules every message in it.
func (c *Consumer) Poll(ctx context.Context) error {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: c.MaxMessages,
		WaitTimeSeconds:     c.WaitSeconds,
	})
	if err != nil {
		return fmt.Errorf("receive: %w", err)
	}
	for _, msg := range out.Messages {
		if err := c.handle(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// handle schedules msg and deletes it once the run is accepted. A message
// that cannot be decoded is deleted too; redelivering it would never help.
// A message whose run was not accepted stays on the queue.
func (c *Consumer) handle(ctx context.Context, msg types.Message) error {
	logger := c.logger.With("message_id", aws.ToString(msg.MessageId))

	req, err := Decode(aws.ToString(msg.Body))
	if err != nil {
		logger.Warn("dropping malformed run request", "error", err)
		c.delete(ctx, logger, msg)
		return nil
	}

	run, err := c.sched.ExecuteRun(ctx, req.Test, req.Submission)
	if err != nil {
		return fmt.Errorf("schedule run: %w", err)
	}
	logger.Info("run queued", "run_id", run.ID, "test_id", run.TestID, "submission_id", run.SubmissionID)
	c.delete(ctx, logger, msg)
	return nil
}

func (c *Consumer) delete(ctx context.Context, logger *slog.Logger, msg types.Message) {
	_, err := c.client.DeleteMessage(context.WithoutCancel(ctx), &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		logger.Error("failed to delete message", "error", err)
	}
}

// Decode parses and checks a run request message body.
func Decode(body string) (api.RunRequest, error) {
	var req api.RunRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return req, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if req.Test.ID == "" {
		return req, errors.New("test id is missing")
	}
	if req.Submission.ID == "" {
		return req, errors.New("submission id is missing")
	}
	return req, nil
}
