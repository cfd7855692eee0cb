// Package ratelimit keeps per-user conversation, message and generation counters in
// day and hour buckets. Every counter change is a single store transaction.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/cropsense-rag/internal/models"
	"github.com/Lllllllleong/cropsense-rag/internal/store"
)

// Quotas are the per-user limits. Zero disables a limit.
type Quotas struct {
	MaxConversationsPerDay int
	MaxMessagesPerHour     int
	MaxRequestsPerHour     int
}

type Limiter struct {
	limits        store.LimitStore
	conversations store.ConversationStore
	quotas        Quotas
	now           func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(limits store.LimitStore, conversations store.ConversationStore, quotas Quotas, opts ...Option) *Limiter {
	l := &Limiter{
		limits:        limits,
		conversations: conversations,
		quotas:        quotas,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func newRecord(userID string, now time.Time) *models.UserLimit {
	return &models.UserLimit{
		UserID:                userID,
		LastResetDateBucket:   models.DayBucket(now),
		LastResetHourBucket:   models.HourBucket(now),
		LastRequestHourBucket: models.HourBucket(now),
		UpdatedAt:             now,
	}
}

// OnConversationCreate counts a new conversation against the user's day bucket.
func (l *Limiter) OnConversationCreate(ctx context.Context, userID string) (*models.UserLimit, error) {
	if userID == "" {
		return nil, fmt.Errorf("conversation has no userId")
	}
	rec, err := l.limits.UpdateLimit(ctx, userID, func(cur *models.UserLimit) (*models.UserLimit, error) {
		now := l.now()
		day := models.DayBucket(now)
		switch {
		case cur == nil:
			cur = newRecord(userID, now)
			cur.ConversationsToday = 1
		case cur.LastResetDateBucket != day:
			cur.ConversationsToday = 1
			cur.LastResetDateBucket = day
		default:
			cur.ConversationsToday++
		}
		cur.UpdatedAt = now
		return cur, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count conversation for %s: %w", userID, err)
	}
	slog.Info("Counted conversation", "userId", userID, "conversationsToday", rec.ConversationsToday)
	return rec, nil
}

// OnMessageCreate resolves the conversation's owner, then counts the message against the
// owner's hour bucket and bumps the conversation's message count in one transaction, so a
// redelivered event after a failure is never counted twice.
func (l *Limiter) OnMessageCreate(ctx context.Context, conversationID string) (*models.UserLimit, error) {
	conv, err := l.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve owner of %s: %w", conversationID, err)
	}
	if conv.UserID == "" {
		return nil, fmt.Errorf("conversation %s has no userId", conversationID)
	}

	rec, err := l.conversations.RecordMessage(ctx, conversationID, conv.UserID, l.now(), func(cur *models.UserLimit) (*models.UserLimit, error) {
		now := l.now()
		hour := models.HourBucket(now)
		switch {
		case cur == nil:
			cur = newRecord(conv.UserID, now)
			cur.MessagesThisHour = 1
		case cur.LastResetHourBucket != hour:
			cur.MessagesThisHour = 1
			cur.LastResetHourBucket = hour
		default:
			cur.MessagesThisHour++
		}
		cur.UpdatedAt = now
		return cur, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count message for %s: %w", conv.UserID, err)
	}
	return rec, nil
}

// Allow admits one generative request for userID or returns models.ErrRateLimitExceeded.
// Conversation and message counters are checked as recorded by the hooks; the request
// counter is incremented on admission.
func (l *Limiter) Allow(ctx context.Context, userID string) error {
	_, err := l.limits.UpdateLimit(ctx, userID, func(cur *models.UserLimit) (*models.UserLimit, error) {
		now := l.now()
		if cur == nil {
			cur = newRecord(userID, now)
		}
		rollBuckets(cur, now)

		q := l.quotas
		switch {
		case q.MaxConversationsPerDay > 0 && cur.ConversationsToday > q.MaxConversationsPerDay:
			return nil, fmt.Errorf("%w: %d conversations today", models.ErrRateLimitExceeded, cur.ConversationsToday)
		case q.MaxMessagesPerHour > 0 && cur.MessagesThisHour > q.MaxMessagesPerHour:
			return nil, fmt.Errorf("%w: %d messages this hour", models.ErrRateLimitExceeded, cur.MessagesThisHour)
		case q.MaxRequestsPerHour > 0 && cur.RequestsThisHour >= q.MaxRequestsPerHour:
			return nil, fmt.Errorf("%w: %d requests this hour", models.ErrRateLimitExceeded, cur.RequestsThisHour)
		}

		cur.RequestsThisHour++
		cur.TotalRequests++
		cur.UpdatedAt = now
		return cur, nil
	})
	return err
}

// rollBuckets zeroes every counter whose bucket has passed.
func rollBuckets(rec *models.UserLimit, now time.Time) {
	day, hour := models.DayBucket(now), models.HourBucket(now)
	if rec.LastResetDateBucket != day {
		rec.ConversationsToday = 0
		rec.LastResetDateBucket = day
	}
	if rec.LastResetHourBucket != hour {
		rec.MessagesThisHour = 0
		rec.LastResetHourBucket = hour
	}
	if rec.LastRequestHourBucket != hour {
		rec.RequestsThisHour = 0
		rec.LastRequestHourBucket = hour
	}
}
