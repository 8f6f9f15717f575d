package service

import (
	"context"

	"shadowlog/internal/bucketing"
	"shadowlog/internal/encryption"

	"go.uber.org/zap"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	writer        RecordWriter
	logPath       string
	trapPort      int
	sinks         []Sink
	stats         StatsSource
	forwarderCfg  ForwarderConfig
	bucketingMgr  *bucketing.BucketingManager
	encryptionMgr *encryption.EncryptionManager
	logger        *zap.Logger

	forwarder        *Forwarder
	captureService   *CaptureService
	dashboardService *DashboardService
}

type ServiceFactoryConfig struct {
	Writer    RecordWriter
	LogPath   string
	TrapPort  int
	Sinks     []Sink
	Stats     StatsSource // nil when no live counter store is enabled
	Forwarder ForwarderConfig
}

func NewServiceFactory(
	cfg ServiceFactoryConfig,
	bucketingMgr *bucketing.BucketingManager,
	encryptionMgr *encryption.EncryptionManager,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		writer:        cfg.Writer,
		logPath:       cfg.LogPath,
		trapPort:      cfg.TrapPort,
		sinks:         cfg.Sinks,
		stats:         cfg.Stats,
		forwarderCfg:  cfg.Forwarder,
		bucketingMgr:  bucketingMgr,
		encryptionMgr: encryptionMgr,
		logger:        logger,
	}
}

// Forwarder is nil when no sink is enabled.
func (f *ServiceFactory) Forwarder() *Forwarder {
	if f.forwarder == nil && len(f.sinks) > 0 {
		f.forwarder = NewForwarder(f.forwarderCfg, f.sinks, f.bucketingMgr, f.encryptionMgr, f.logger)
	}
	return f.forwarder
}

// CaptureService returns the capture service instance (singleton)
func (f *ServiceFactory) CaptureService() *CaptureService {
	if f.captureService == nil {
		f.captureService = NewCaptureService(f.writer, f.Forwarder(), f.logger)
	}
	return f.captureService
}

func (f *ServiceFactory) DashboardService() *DashboardService {
	if f.dashboardService == nil {
		f.dashboardService = NewDashboardService(f.logPath, f.trapPort, f.stats, f.logger)
	}
	return f.dashboardService
}

// Cleanup drains the forwarder.
func (f *ServiceFactory) Cleanup(ctx context.Context) {
	if f.forwarder != nil {
		if err := f.forwarder.Close(ctx); err != nil {
			f.logger.Warn("Forwarder did not drain", zap.Error(err))
		}
	}
}
