package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"shadowlog/internal/bucketing"
	"shadowlog/internal/encryption"
	"shadowlog/internal/model"
	"shadowlog/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrQueueFull       = errors.New("forward queue full")
	ErrForwarderClosed = errors.New("forwarder closed")
)

const passwordPurpose = "attack.password"

// Sink is a remote store that receives every captured attack.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev *models.AttackEvent) error
}

type ForwarderConfig struct {
	QueueSize        int
	Workers          int
	Timeout          time.Duration
	EncryptPasswords bool
}

// ForwarderStats are counters since start.
type ForwarderStats struct {
	Submitted int64 `json:"submitted"`
	Dropped   int64 `json:"dropped"`
	Published int64 `json:"published"`
	Failed    int64 `json:"failed"`
}

// Forwarder copies records to the remote sinks off the connection path.
// Submit never blocks; when the queue is full the record is dropped.
type Forwarder struct {
	cfg        ForwarderConfig
	sinks      []Sink
	bucketing  *bucketing.BucketingManager
	encryption *encryption.EncryptionManager
	logger     *zap.Logger

	queue  chan *model.AttackRecord
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	submitted, dropped, published, failed atomic.Int64
}

// NewForwarder starts cfg.Workers goroutines. encryptionMgr is only used
// when cfg.EncryptPasswords is set.
func NewForwarder(
	cfg ForwarderConfig,
	sinks []Sink,
	bucketingMgr *bucketing.BucketingManager,
	encryptionMgr *encryption.EncryptionManager,
	logger *zap.Logger,
) *Forwarder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	f := &Forwarder{
		cfg:        cfg,
		sinks:      sinks,
		bucketing:  bucketingMgr,
		encryption: encryptionMgr,
		logger:     logger,
		queue:      make(chan *model.AttackRecord, cfg.QueueSize),
	}

	for i := 0; i < cfg.Workers; i++ {
		f.wg.Add(1)
		go f.worker()
	}

	logger.Info("Attack forwarder started",
		zap.Strings("sinks", f.SinkNames()),
		zap.Int("workers", cfg.Workers),
		zap.Int("queue_size", cfg.QueueSize),
		zap.Bool("encrypt_passwords", cfg.EncryptPasswords))

	return f
}

func (f *Forwarder) SinkNames() []string {
	names := make([]string, 0, len(f.sinks))
	for _, s := range f.sinks {
		names = append(names, s.Name())
	}
	return names
}

func (f *Forwarder) Submit(rec *model.AttackRecord) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return ErrForwarderClosed
	}
	select {
	case f.queue <- rec:
		f.submitted.Add(1)
		return nil
	default:
		f.dropped.Add(1)
		return ErrQueueFull
	}
}

func (f *Forwarder) Stats() ForwarderStats {
	return ForwarderStats{
		Submitted: f.submitted.Load(),
		Dropped:   f.dropped.Load(),
		Published: f.published.Load(),
		Failed:    f.failed.Load(),
	}
}

// Close stops intake and waits for queued records to be published or
// for ctx to end.
func (f *Forwarder) Close(ctx context.Context) error {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.queue)
	}
	f.mu.Unlock()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		f.logger.Info("Attack forwarder drained", zap.Any("stats", f.Stats()))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("forwarder drain: %w", ctx.Err())
	}
}

func (f *Forwarder) worker() {
	defer f.wg.Done()
	for rec := range f.queue {
		f.forward(rec)
	}
}

func (f *Forwarder) forward(rec *model.AttackRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.Timeout)
	defer cancel()

	ev, err := f.BuildEvent(ctx, rec)
	if err != nil {
		f.failed.Add(1)
		f.logger.Warn("Failed to build attack event", zap.String("event_id", rec.EventID), zap.Error(err))
		return
	}

	var g errgroup.Group
	for _, sink := range f.sinks {
		g.Go(func() error {
			if err := sink.Publish(ctx, ev); err != nil {
				f.logger.Warn("Sink publish failed",
					zap.String("sink", sink.Name()),
					zap.String("event_id", ev.EventID),
					zap.Error(err))
				return fmt.Errorf("%s: %w", sink.Name(), err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		f.failed.Add(1)
		return
	}
	f.published.Add(1)
}

// BuildEvent converts a record to the sink row, encrypting the password
// when configured.
func (f *Forwarder) BuildEvent(ctx context.Context, rec *model.AttackRecord) (*models.AttackEvent, error) {
	assignment := f.bucketing.Assign(rec.SourceAddress, rec.Timestamp)

	ev := &models.AttackEvent{
		EventBucket:   assignment.EventBucket,
		EventDate:     assignment.DateBucket,
		EventTime:     rec.Timestamp.UTC(),
		EventID:       rec.EventID,
		IPAddress:     net.ParseIP(rec.SourceAddress),
		SourceAddress: rec.SourceAddress,
		Username:      rec.Username,
		Password:      rec.Password,
		Region:        rec.Region,
		ThreatLevel:   rec.ThreatLevel,
	}

	if f.cfg.EncryptPasswords {
		if f.encryption == nil {
			return nil, fmt.Errorf("password encryption enabled without an encryption manager")
		}
		data, err := f.encryption.EncryptField(ctx, rec.Password, passwordPurpose)
		if err != nil {
			return nil, err
		}
		ev.Password = ""
		ev.PasswordEncrypted = true
		ev.EncryptedPassword = data.Ciphertext
		ev.PasswordDEK = data.EncryptedDEK
		ev.PasswordKeyID = data.KeyID
	}
	return ev, nil
}
