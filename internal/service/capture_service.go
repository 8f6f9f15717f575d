package service

import (
	"errors"

	"shadowlog/internal/model"

	"go.uber.org/zap"
)

// RecordWriter is the durable attack log.
type RecordWriter interface {
	Append(rec *model.AttackRecord)
}

// CaptureService is the trap's record sink: the file write happens first,
// remote forwarding is best effort afterwards.
type CaptureService struct {
	writer    RecordWriter
	forwarder *Forwarder
	logger    *zap.Logger
}

// NewCaptureService accepts a nil forwarder when no remote sink is enabled.
func NewCaptureService(writer RecordWriter, forwarder *Forwarder, logger *zap.Logger) *CaptureService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CaptureService{writer: writer, forwarder: forwarder, logger: logger}
}

func (s *CaptureService) Append(rec *model.AttackRecord) {
	s.writer.Append(rec)

	if s.forwarder == nil {
		return
	}
	if err := s.forwarder.Submit(rec); err != nil {
		if errors.Is(err, ErrQueueFull) {
			s.logger.Warn("Forward queue full, remote copy dropped", zap.String("event_id", rec.EventID))
			return
		}
		s.logger.Debug("Record not forwarded", zap.String("event_id", rec.EventID), zap.Error(err))
	}
}
