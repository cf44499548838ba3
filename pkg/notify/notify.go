// Package notify hands grading events to the notification dispatcher.
// Delivery is fire-and-forget: a failed publish is logged and never
// surfaces to the operation that produced the event.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"gradebook_backend/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	EventGradePosted     = "grade.posted"
	EventAttemptFinished = "attempt.finished"
)

type Event struct {
	Type             string    `json:"type"`
	StudentID        uint      `json:"studentId"`
	CourseOfferingID uint      `json:"courseOfferingId,omitempty"`
	GradeItemID      uint      `json:"gradeItemId,omitempty"`
	QuizID           uint      `json:"quizId,omitempty"`
	AttemptID        uint      `json:"attemptId,omitempty"`
	Status           string    `json:"status,omitempty"`
	Score            string    `json:"score,omitempty"`
	OccurredAt       time.Time `json:"occurredAt"`
}

type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// RedisPublisher PUBLISHes events as JSON on a single channel.
type RedisPublisher struct {
	Client  *redis.Client
	Channel string
	Timeout time.Duration
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{Client: client, Channel: channel, Timeout: 2 * time.Second}
}

func (p *RedisPublisher) Publish(_ context.Context, evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		logger.Log.Error("encode event", zap.String("type", evt.Type), zap.Error(err))
		return
	}
	// detached from the request context: the request may finish first
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.Timeout)
		defer cancel()
		if err := p.Client.Publish(ctx, p.Channel, payload).Err(); err != nil {
			logger.Log.Warn("publish event failed",
				zap.String("type", evt.Type),
				zap.String("channel", p.Channel),
				zap.Error(err),
			)
		}
	}()
}

// LogPublisher only logs; used when no broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, evt Event) {
	logger.Log.Info("grading event",
		zap.String("type", evt.Type),
		zap.Uint("studentId", evt.StudentID),
		zap.Uint("attemptId", evt.AttemptID),
		zap.Uint("gradeItemId", evt.GradeItemID),
		zap.String("status", evt.Status),
	)
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

func (r *Recorder) Publish(_ context.Context, evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, evt)
}

func (r *Recorder) Count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.Events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}
