package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"
)

const (
	// StreamName is the JetStream stream holding every approval event.
	StreamName = "APPROVALS"

	SubjectRuleChanged      = "approval.rule.changed"
	SubjectSessionStarted   = "approval.session.started"
	SubjectSessionDecided   = "approval.session.decided"
	SubjectSessionDelegated = "approval.session.delegated"
	SubjectSessionApproved  = "approval.session.approved"
	SubjectSessionRejected  = "approval.session.rejected"
	SubjectSessionCancelled = "approval.session.cancelled"
	SubjectSessionReminder  = "approval.session.reminder"
)

// Event is the payload published on every approval subject.
type Event struct {
	EventID         string    `json:"eventId"`
	Subject         string    `json:"subject"`
	RuleID          string    `json:"ruleId,omitempty"`
	SessionID       string    `json:"sessionId,omitempty"`
	TransactionID   string    `json:"transactionId,omitempty"`
	TransactionType string    `json:"transactionType,omitempty"`
	Department      string    `json:"department,omitempty"`
	Amount          string    `json:"amount,omitempty"`
	State           string    `json:"state,omitempty"`
	Level           int       `json:"level,omitempty"`
	Role            string    `json:"role,omitempty"`
	Outcome         string    `json:"outcome,omitempty"`
	ActorID         string    `json:"actorId,omitempty"`
	DelegateTo      string    `json:"delegateTo,omitempty"`
	Action          string    `json:"action,omitempty"`
	PendingSince    string    `json:"pendingSince,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Emitter is what the services publish through.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// Publisher sends approval events to NATS JetStream
type Publisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *logrus.Entry
	wg     sync.WaitGroup
}

// NewPublisher connects to NATS and makes sure the APPROVALS stream exists
func NewPublisher(ctx context.Context, natsURL string, logger *logrus.Logger) (*Publisher, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}
	entry := logger.WithField("component", "approval-events")

	nc, err := nats.Connect(natsURL,
		nats.Name("approval-matrix-service"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			entry.WithField("url", nc.ConnectedUrl()).Info("Reconnected to NATS")
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			entry.WithError(err).Warn("Disconnected from NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"approval.>"},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    30 * 24 * time.Hour,
		Storage:   jetstream.FileStorage,
		Replicas:  1,
	})
	if err != nil {
		entry.WithError(err).Warn("Could not create APPROVALS stream")
	}

	return &Publisher{nc: nc, js: js, logger: entry}, nil
}

// Emit publishes asynchronously; failures are logged, never returned.
func (p *Publisher) Emit(_ context.Context, event Event) {
	if p == nil || p.js == nil {
		return
	}
	event = stamp(event)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		pubCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		fields := logrus.Fields{
			"subject":   event.Subject,
			"sessionId": event.SessionID,
			"ruleId":    event.RuleID,
		}

		data, err := json.Marshal(event)
		if err != nil {
			p.logger.WithFields(fields).WithError(err).Error("Failed to marshal approval event")
			return
		}

		if _, err := p.js.Publish(pubCtx, event.Subject, data, jetstream.WithMsgID(event.EventID)); err != nil {
			p.logger.WithFields(fields).WithError(err).Error("Failed to publish approval event")
			return
		}
		p.logger.WithFields(fields).Debug("Approval event published")
	}()
}

// Close waits for in-flight publishes and closes the NATS connection
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.wg.Wait()
	if p.nc != nil {
		p.nc.Drain()
	}
}

func stamp(event Event) Event {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return event
}

// Recorder keeps emitted events in memory. Used when NATS is not configured
// and by tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

// NewRecorder keeps at most limit events; limit <= 0 keeps everything.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

// Emit records event
func (r *Recorder) Emit(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, stamp(event))
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = r.events[len(r.events)-r.limit:]
	}
}

// Events returns a copy of what was recorded
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Subjects lists recorded subjects in order
func (r *Recorder) Subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Subject)
	}
	return out
}

var (
	_ Emitter = (*Publisher)(nil)
	_ Emitter = (*Recorder)(nil)
)
