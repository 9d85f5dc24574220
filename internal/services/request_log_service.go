// Package services holds background services supporting the proxy.
package services

import (
	"sync"
	"time"

	"github.com/jleechanorg/codex-plus/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	logBufferSize    = 256
	logFlushInterval = 2 * time.Second
	logFlushBatch    = 64

	logRetention       = 30 * 24 * time.Hour
	logCleanupInterval = 24 * time.Hour
)

// RequestLogService writes audit records asynchronously so the request path
// never blocks on the database. Records buffer in a channel and flush in
// batches; a full buffer drops the record with a warning rather than stall a
// stream.
type RequestLogService struct {
	db      *gorm.DB
	pending chan *models.RequestLog
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewRequestLogService creates the service and starts its flush loop.
func NewRequestLogService(db *gorm.DB) *RequestLogService {
	s := &RequestLogService{
		db:      db,
		pending: make(chan *models.RequestLog, logBufferSize),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.flushLoop()
	return s
}

// Record queues one audit record. Non-blocking.
func (s *RequestLogService) Record(log *models.RequestLog) {
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now()
	}
	select {
	case s.pending <- log:
	default:
		logrus.Warn("Request log buffer full, dropping audit record")
	}
}

// Stop flushes remaining records and stops the loop.
func (s *RequestLogService) Stop() {
	s.once.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}

func (s *RequestLogService) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(logFlushInterval)
	defer ticker.Stop()
	cleanup := time.NewTicker(logCleanupInterval)
	defer cleanup.Stop()

	var batch []*models.RequestLog
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.db.Create(batch).Error; err != nil {
			logrus.WithError(err).Error("Failed to write request log batch")
		}
		batch = batch[:0]
	}

	for {
		select {
		case log := <-s.pending:
			batch = append(batch, log)
			if len(batch) >= logFlushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-cleanup.C:
			s.deleteExpired()
		case <-s.done:
			for {
				select {
				case log := <-s.pending:
					batch = append(batch, log)
				default:
					flush()
					return
				}
			}
		}
	}
}

// deleteExpired trims audit records past the retention window.
func (s *RequestLogService) deleteExpired() {
	cutoff := time.Now().Add(-logRetention)
	result := s.db.Where("timestamp < ?", cutoff).Delete(&models.RequestLog{})
	if result.Error != nil {
		logrus.WithError(result.Error).Error("Failed to clean up expired request logs")
		return
	}
	if result.RowsAffected > 0 {
		logrus.Infof("Cleaned up %d expired request logs", result.RowsAffected)
	}
}
