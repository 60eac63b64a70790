// Package consumer long-polls the sensor report queue and feeds reports
// into the occupancy reconciler.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/parkway/internal/config"
	"github.com/smallbiznis/parkway/internal/errkind"
	obscontext "github.com/smallbiznis/parkway/internal/observability/context"
	sensordomain "github.com/smallbiznis/parkway/internal/sensor/domain"
	userdomain "github.com/smallbiznis/parkway/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrQueueNotConfigured = errors.New("sqs_queue_not_configured")

// API is the subset of the SQS client the consumer needs.
type API interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Report is the queue message body.
type Report struct {
	SensorID   snowflake.ID  `json:"sensor_id"`
	IsOccupied bool          `json:"is_occupied"`
	Timestamp  time.Time     `json:"timestamp"`
	BookingID  *snowflake.ID `json:"booking_id,omitempty"`
}

type Consumer struct {
	api      API
	cfg      config.SQSConfig
	reporter sensordomain.Service
	log      *zap.Logger
}

func New(api API, cfg config.SQSConfig, reporter sensordomain.Service, log *zap.Logger) *Consumer {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 10
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &Consumer{
		api:      api,
		cfg:      cfg,
		reporter: reporter,
		log:      log.Named("sensor.consumer"),
	}
}

// NewClient builds an SQS client from the default AWS credential chain.
// A non-empty endpoint points it at a local emulator.
func NewClient(ctx context.Context, cfg config.SQSConfig) (*sqs.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, err
	}
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// Run polls until ctx is canceled. Receive errors back off for RetryDelay.
func (c *Consumer) Run(ctx context.Context) error {
	if c.cfg.QueueURL == "" {
		return ErrQueueNotConfigured
	}
	c.log.Info("sensor consumer started", zap.String("queue_url", c.cfg.QueueURL))
	for {
		if ctx.Err() != nil {
			c.log.Info("sensor consumer stopped")
			return nil
		}
		if _, err := c.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("receive failed", zap.Error(err))
			select {
			case <-time.After(c.cfg.RetryDelay):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// PollOnce receives one batch and returns how many messages were deleted.
func (c *Consumer) PollOnce(ctx context.Context) (int, error) {
	out, err := c.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.cfg.QueueURL),
		MaxNumberOfMessages: c.cfg.MaxMessages,
		WaitTimeSeconds:     c.cfg.WaitTimeSeconds,
		VisibilityTimeout:   c.cfg.VisibilityTimeout,
	})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, msg := range out.Messages {
		if !c.handle(ctx, msg) {
			continue
		}
		if c.delete(ctx, msg) {
			deleted++
		}
	}
	return deleted, nil
}

// handle reports whether the message is finished with, either applied or
// permanently unusable.
func (c *Consumer) handle(ctx context.Context, msg types.Message) bool {
	cid := ulid.Make().String()
	ctx = obscontext.WithCorrelationID(ctx, cid)
	ctx = obscontext.WithActor(ctx, "system", userdomain.SystemUserID.String())
	log := c.log.With(zap.String("correlation_id", cid), zap.String("message_id", aws.ToString(msg.MessageId)))

	if msg.Body == nil {
		log.Warn("dropping empty message")
		return true
	}
	var report Report
	if err := json.Unmarshal([]byte(*msg.Body), &report); err != nil {
		log.Warn("dropping undecodable message", zap.Error(err))
		return true
	}

	ack, err := c.reporter.ReportStatus(ctx, sensordomain.ReportRequest{
		CallerID:   userdomain.SystemUserID,
		SensorID:   report.SensorID,
		IsOccupied: report.IsOccupied,
		Timestamp:  report.Timestamp,
		BookingID:  report.BookingID,
	})
	if err != nil {
		if isPermanent(err) {
			log.Warn("dropping report", zap.String("sensor_id", report.SensorID.String()), zap.Error(err))
			return true
		}
		log.Error("report failed, leaving for redelivery", zap.String("sensor_id", report.SensorID.String()), zap.Error(err))
		return false
	}
	log.Debug("report applied",
		zap.String("sensor_id", report.SensorID.String()),
		zap.Bool("changed", ack.Changed),
		zap.Bool("stale", ack.Stale),
	)
	return true
}

func (c *Consumer) delete(ctx context.Context, msg types.Message) bool {
	if msg.ReceiptHandle == nil {
		return false
	}
	_, err := c.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.cfg.QueueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		c.log.Warn("delete failed", zap.String("message_id", aws.ToString(msg.MessageId)), zap.Error(err))
		return false
	}
	return true
}

func isPermanent(err error) bool {
	switch errkind.Of(err) {
	case errkind.NotFound, errkind.InvalidArgument:
		return true
	default:
		return false
	}
}

// Module runs the consumer for the lifetime of the fx app.
var Module = fx.Module("sensor.consumer",
	fx.Provide(func(cfg config.Config) (API, error) {
		return NewClient(context.Background(), cfg.SQS)
	}),
	fx.Provide(func(api API, cfg config.Config, reporter sensordomain.Service, log *zap.Logger) *Consumer {
		return New(api, cfg.SQS, reporter, log)
	}),
	fx.Invoke(register),
)

func register(lc fx.Lifecycle, c *Consumer) {
	var (
		cancel context.CancelFunc
		wg     sync.WaitGroup
	)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := c.Run(ctx); err != nil {
					c.log.Error("sensor consumer exited", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
