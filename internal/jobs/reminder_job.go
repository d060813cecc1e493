package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"approval-matrix-service/internal/events"
	"approval-matrix-service/internal/models"
	"approval-matrix-service/internal/repository"
	"approval-matrix-service/internal/services"
)

// ReminderJob publishes reminders for sessions left pending too long.
// It never changes session state; an external notifier consumes the events.
type ReminderJob struct {
	sessions repository.SessionRepository
	emitter  events.Emitter
	logger   *logrus.Logger
	interval time.Duration
	after    time.Duration
	now      func() time.Time

	mu       sync.Mutex
	reminded map[uuid.UUID]time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewReminderJob creates a new reminder job
func NewReminderJob(sessions repository.SessionRepository, emitter events.Emitter, interval, after time.Duration, logger *logrus.Logger) *ReminderJob {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if after <= 0 {
		after = 24 * time.Hour
	}
	return &ReminderJob{
		sessions: sessions,
		emitter:  emitter,
		logger:   logger,
		interval: interval,
		after:    after,
		now:      time.Now,
		reminded: make(map[uuid.UUID]time.Time),
		stopCh:   make(chan struct{}),
	}
}

// Start runs the job until Stop is called or ctx is cancelled
func (j *ReminderJob) Start(ctx context.Context) {
	j.logger.WithFields(logrus.Fields{
		"interval": j.interval.String(),
		"after":    j.after.String(),
	}).Info("Reminder job started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			j.RunOnce(ctx)
		case <-j.stopCh:
			j.logger.Info("Reminder job stopped")
			return
		case <-ctx.Done():
			j.logger.Info("Reminder job context cancelled")
			return
		}
	}
}

// Stop signals the job to stop
func (j *ReminderJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
}

// RunOnce emits one reminder per overdue session and returns how many were sent.
// A session is reminded again only after another full reminder window.
func (j *ReminderJob) RunOnce(ctx context.Context) int {
	now := j.now()
	cutoff := now.Add(-j.after)

	overdue, err := j.sessions.FindPendingSince(ctx, cutoff)
	if err != nil {
		j.logger.WithError(err).Error("Failed to find overdue approval sessions")
		return 0
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	live := make(map[uuid.UUID]bool, len(overdue))
	sent := 0
	for i := range overdue {
		session := &overdue[i]
		live[session.ID] = true
		if last, ok := j.reminded[session.ID]; ok && last.After(cutoff) {
			continue
		}
		j.emitter.Emit(ctx, reminderEvent(session))
		j.reminded[session.ID] = now
		sent++
	}

	// sessions that left PENDING no longer need tracking
	for id := range j.reminded {
		if !live[id] {
			delete(j.reminded, id)
		}
	}

	if sent > 0 {
		j.logger.Infof("Sent %d approval reminders", sent)
	}
	return sent
}

func reminderEvent(session *models.ApprovalSession) events.Event {
	event := services.SessionEvent(events.SubjectSessionReminder, session)
	event.PendingSince = session.CreatedAt.UTC().Format(time.RFC3339)
	if outstanding := session.OutstandingLevels(); len(outstanding) > 0 {
		event.Level = outstanding[0].Level
		event.Role = string(outstanding[0].Role)
	}
	return event
}
