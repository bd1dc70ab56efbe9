package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"leadscore-backend/internal/bootstrap"
	"leadscore-backend/internal/queue"
	"leadscore-backend/internal/shared/config"
	"leadscore-backend/internal/shared/metrics"
	"leadscore-backend/internal/shared/telemetry"
	"leadscore-backend/internal/workerproc"
)

const (
	defaultSQSRegion          = "us-east-1"
	defaultVisibilitySeconds  = 900
	defaultWorkerConcurrency  = 4
	defaultShutdownTimeoutSec = 30
	defaultMaxAttempts        = 5
	retryBackoffBaseSeconds   = 30
)

func main() {
	cfg := config.Load()

	queueURL := strings.TrimSpace(os.Getenv("LS_SQS_QUEUE_URL"))
	if queueURL == "" {
		log.Fatal("LS_SQS_QUEUE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	visibilitySeconds := envInt("LS_SQS_VISIBILITY_TIMEOUT_SECONDS", defaultVisibilitySeconds)
	concurrency := envInt("LS_WORKER_CONCURRENCY", defaultWorkerConcurrency)
	maxAttempts := envInt("LS_MAX_DELIVERY_ATTEMPTS", defaultMaxAttempts)
	shutdownTimeout := time.Duration(envInt("LS_SHUTDOWN_TIMEOUT_SECONDS", defaultShutdownTimeoutSec)) * time.Second

	region := strings.TrimSpace(os.Getenv("AWS_REGION"))
	if region == "" {
		region = defaultSQSRegion
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}
	var sqsClient sqsAPI = sqs.NewFromConfig(awsCfg)

	app, err := bootstrap.Build(cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}

	consumer := &consumer{
		app:         app,
		client:      sqsClient,
		queueURL:    queueURL,
		maxAttempts: maxAttempts,
	}

	sem := make(chan struct{}, max(1, concurrency))
	var wg sync.WaitGroup

	log.Printf("worker started queue=%s concurrency=%d visibility=%ds max_attempts=%d",
		queueURL, concurrency, visibilitySeconds, maxAttempts)

pollLoop:
	for {
		select {
		case <-ctx.Done():
			break pollLoop
		default:
		}

		resp, err := sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   int32(visibilitySeconds),
			AttributeNames:      []sqstypes.QueueAttributeName{sqstypes.QueueAttributeName("ApproximateReceiveCount")},
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break pollLoop
			}
			log.Printf("receive message: %v", err)
			continue
		}

		for _, msg := range resp.Messages {
			select {
			case <-ctx.Done():
				break pollLoop
			case sem <- struct{}{}:
			}
			metrics.IncQueueJobsReceived()
			wg.Add(1)
			go func(m sqstypes.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				consumer.handle(ctx, m)
			}(msg)
		}
	}

	log.Printf("shutdown requested, waiting up to %s for in-flight jobs", shutdownTimeout)
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(shutdownTimeout):
		log.Printf("shutdown timeout reached; exiting with in-flight jobs")
	}
	app.Hub.Shutdown()
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

type consumer struct {
	app         *bootstrap.App
	client      sqsAPI
	queueURL    string
	maxAttempts int
}

func (c *consumer) handle(ctx context.Context, msg sqstypes.Message) {
	body := aws.ToString(msg.Body)
	attempt := receiveCount(msg)

	decoded, meta, err := workerproc.ParseMessage(body)
	if err != nil {
		// Unparseable payloads can never succeed; drop them immediately.
		fields := c.baseFields(msg, "", "")
		fields["body_len"] = meta.BodyLen
		if meta.BodySHA != "" {
			fields["body_sha256"] = meta.BodySHA
		}
		fields["error"] = err.Error()
		telemetry.Error("worker.run.unprocessable", fields)
		if c.delete(ctx, msg, "", "") {
			metrics.IncQueueJobsDead()
		}
		return
	}
	decoded.DeliveryAttempt = attempt

	telemetry.Info("worker.run.received", c.baseFields(msg, decoded.RunID, decoded.RequestID))

	ctxWithParsed := workerproc.WithParsedMessage(ctx, decoded)
	if err := workerproc.HandleMessage(ctxWithParsed, c.app, body); err != nil {
		c.handleFailure(ctx, msg, decoded, attempt, err)
		return
	}

	if c.delete(ctx, msg, decoded.RunID, decoded.RequestID) {
		telemetry.Info("worker.run.completed", c.baseFields(msg, decoded.RunID, decoded.RequestID))
		metrics.IncQueueJobsCompleted()
	}
}

// handleFailure routes a processing error: with attempts remaining the
// message visibility is shortened to an exponential backoff delay so SQS
// redelivers it; with attempts exhausted the run is failed directly and
// the message removed.
func (c *consumer) handleFailure(ctx context.Context, msg sqstypes.Message, decoded queue.Message, attempt int, err error) {
	fields := c.baseFields(msg, decoded.RunID, decoded.RequestID)
	fields["attempt"] = attempt
	fields["error"] = err.Error()

	if attempt >= c.maxAttempts {
		telemetry.Error("worker.run.attempts_exhausted", fields)
		workerproc.FailTerminally(ctx, c.app, decoded.RunID, "analysis failed after repeated attempts")
		if c.delete(ctx, msg, decoded.RunID, decoded.RequestID) {
			metrics.IncQueueJobsDead()
		}
		return
	}

	telemetry.Error("worker.run.failed", fields)
	metrics.IncQueueJobsRetried()
	c.scheduleRetry(ctx, msg, decoded, attempt)
}

// scheduleRetry shortens the message visibility to base*2^attempt so the
// next delivery arrives after a backoff instead of the full visibility
// timeout. Failing to change visibility just means a slower retry.
func (c *consumer) scheduleRetry(ctx context.Context, msg sqstypes.Message, decoded queue.Message, attempt int) {
	delay := retryBackoffBaseSeconds * (1 << attempt)
	const maxDelay = 12 * 3600
	if delay > maxDelay {
		delay = maxDelay
	}
	receipt := aws.ToString(msg.ReceiptHandle)
	if receipt == "" {
		return
	}
	if _, err := c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.queueURL),
		ReceiptHandle:     aws.String(receipt),
		VisibilityTimeout: int32(delay),
	}); err != nil {
		fields := c.baseFields(msg, decoded.RunID, decoded.RequestID)
		fields["error"] = err.Error()
		telemetry.Warn("worker.run.backoff_failed", fields)
	}
}

func (c *consumer) delete(ctx context.Context, msg sqstypes.Message, runID, requestID string) bool {
	receipt := aws.ToString(msg.ReceiptHandle)
	if receipt == "" {
		fields := c.baseFields(msg, runID, requestID)
		fields["error"] = "missing receipt handle"
		telemetry.Error("worker.run.delete_failed", fields)
		return false
	}
	if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		fields := c.baseFields(msg, runID, requestID)
		fields["error"] = err.Error()
		telemetry.Error("worker.run.delete_failed", fields)
		return false
	}
	return true
}

func (c *consumer) baseFields(msg sqstypes.Message, runID, requestID string) map[string]any {
	fields := map[string]any{
		"run_id":         runID,
		"sqs_message_id": aws.ToString(msg.MessageId),
		"receive_count":  receiveCount(msg),
	}
	if strings.TrimSpace(requestID) != "" {
		fields["request_id"] = requestID
	}
	return fields
}

func receiveCount(msg sqstypes.Message) int {
	if msg.Attributes == nil {
		return 0
	}
	raw := msg.Attributes["ApproximateReceiveCount"]
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
