package worker

import (
	"context"
	"errors"
	"io"
	"time"

	"equipment-booking/internal/broker"
	"equipment-booking/internal/models"
	"equipment-booking/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DeadLetterPublisher parks messages that cannot be processed.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, msg kafka.Message, cause error) error
}

// ProcessorOptions tunes delivery of one topic. LaneBuffer is how many
// fetched messages a lane may queue while it is busy; the fetcher only
// waits once the target lane's queue is full.
type ProcessorOptions struct {
	Lanes          int
	LaneBuffer     int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Processor consumes one topic. Messages of a partition always go to the
// same lane, so per-key order is kept while different partitions proceed
// in parallel. Each lane queues up to LaneBuffer messages, so a lane stuck
// in backoff does not hold up the partitions of the other lanes. An offset is committed only after its message was handled
// or dead-lettered.
type Processor struct {
	consumer   *broker.Consumer
	handle     broker.MessageHandler
	deadLetter DeadLetterPublisher
	opts       ProcessorOptions
	logger     *zap.Logger
}

func NewProcessor(consumer *broker.Consumer, handle broker.MessageHandler, deadLetter DeadLetterPublisher, opts ProcessorOptions) *Processor {
	if opts.Lanes < 1 {
		opts.Lanes = 1
	}
	if opts.LaneBuffer < 1 {
		opts.LaneBuffer = 256
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 100 * time.Millisecond
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	return &Processor{
		consumer:   consumer,
		handle:     handle,
		deadLetter: deadLetter,
		opts:       opts,
		logger:     util.Named("processor").With(zap.String("topic", consumer.Topic())),
	}
}

// Run consumes until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	lanes := make([]chan kafka.Message, p.opts.Lanes)
	for i := range lanes {
		lane := make(chan kafka.Message, p.opts.LaneBuffer)
		lanes[i] = lane
		g.Go(func() error {
			for msg := range lane {
				p.process(ctx, msg)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, lane := range lanes {
				close(lane)
			}
		}()
		return p.fetch(ctx, lanes)
	})

	return g.Wait()
}

func (p *Processor) fetch(ctx context.Context, lanes []chan kafka.Message) error {
	backoff := p.opts.InitialBackoff
	for {
		msg, err := p.consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			p.logger.Error("Failed to fetch message", zap.Error(err))
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, p.opts.MaxBackoff)
			continue
		}
		backoff = p.opts.InitialBackoff

		select {
		case lanes[msg.Partition%len(lanes)] <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

// process handles msg, retrying failures with exponential backoff. Malformed
// messages and messages that exhausted their attempts are dead-lettered.
func (p *Processor) process(ctx context.Context, msg kafka.Message) {
	topic := msg.Topic
	backoff := p.opts.InitialBackoff

	var err error
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		err = p.handle(ctx, msg)
		if err == nil {
			util.EventsConsumedTotal.WithLabelValues(topic, "ok").Inc()
			p.commit(ctx, msg)
			return
		}
		if errors.Is(err, models.ErrMalformedEvent) || ctx.Err() != nil {
			break
		}

		p.logger.Warn("Message handling failed",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt == p.opts.MaxAttempts {
			break
		}
		util.EventRetriesTotal.WithLabelValues(topic).Inc()
		if !sleep(ctx, backoff) {
			break
		}
		backoff = nextBackoff(backoff, p.opts.MaxBackoff)
	}

	// Leave the offset uncommitted on shutdown so the message is redelivered.
	if ctx.Err() != nil {
		return
	}

	if !p.park(ctx, msg, err) {
		return
	}
	util.EventsConsumedTotal.WithLabelValues(topic, "dead_lettered").Inc()
	p.commit(ctx, msg)
}

// park publishes msg to the dead-letter topic, retrying until it succeeds
// or ctx is done.
func (p *Processor) park(ctx context.Context, msg kafka.Message, cause error) bool {
	backoff := p.opts.InitialBackoff
	for {
		err := p.deadLetter.PublishDeadLetter(ctx, msg, cause)
		if err == nil {
			util.DeadLetteredTotal.WithLabelValues(msg.Topic).Inc()
			p.logger.Error("Message dead-lettered",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.NamedError("cause", cause))
			return true
		}
		p.logger.Error("Failed to dead-letter message", zap.Int64("offset", msg.Offset), zap.Error(err))
		if !sleep(ctx, backoff) {
			return false
		}
		backoff = nextBackoff(backoff, p.opts.MaxBackoff)
	}
}

func (p *Processor) commit(ctx context.Context, msg kafka.Message) {
	if err := p.consumer.Commit(ctx, msg); err != nil {
		p.logger.Error("Failed to commit offset",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
