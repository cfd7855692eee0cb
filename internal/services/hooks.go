package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/cropsense-rag/internal/ratelimit"
	"github.com/Lllllllleong/cropsense-rag/internal/store"
)

// HooksFunction serves the Firestore-triggered rate-limit counters.
type HooksFunction struct {
	conversations store.ConversationStore
	limiter       *ratelimit.Limiter
	config        Config
}

// NewHooks builds the hooks function from the environment.
func NewHooks(ctx context.Context) (*HooksFunction, error) {
	config, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	fsStore, err := newFirestoreStore(ctx, config)
	if err != nil {
		return nil, err
	}
	slog.Info("Rate-limit hooks initialized.", "collection", config.Collections.Limits)
	return NewHooksFunction(fsStore, ratelimit.New(fsStore, fsStore, config.Quotas), *config), nil
}

func NewHooksFunction(conversations store.ConversationStore, limiter *ratelimit.Limiter, config Config) *HooksFunction {
	return &HooksFunction{conversations: conversations, limiter: limiter, config: config}
}

// ParseSubject extracts the conversation and optional message id from a Firestore event
// subject such as "documents/conversations/{cid}/messages/{mid}".
func ParseSubject(subject, collection string) (conversationID, messageID string, err error) {
	parts := strings.Split(strings.TrimPrefix(subject, "documents/"), "/")
	if len(parts) < 2 || parts[0] != collection || parts[1] == "" {
		return "", "", fmt.Errorf("%w: unexpected event subject %q", ErrInvalidRequest, subject)
	}
	conversationID = parts[1]
	if len(parts) >= 4 && parts[2] == "messages" {
		messageID = parts[3]
	}
	return conversationID, messageID, nil
}

// OnConversationCreate counts a newly created conversation against its owner.
func (f *HooksFunction) OnConversationCreate(ctx context.Context, subject string) error {
	conversationID, _, err := ParseSubject(subject, f.config.Collections.Conversations)
	if err != nil {
		return err
	}
	logCtx := slog.With("conversationId", conversationID)

	conv, err := f.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		logCtx.Error("Failed to load conversation", "error", err)
		return fmt.Errorf("failed to load conversation %s: %w", conversationID, err)
	}
	rec, err := f.limiter.OnConversationCreate(ctx, conv.UserID)
	if err != nil {
		logCtx.Error("Failed to count conversation", "userId", conv.UserID, "error", err)
		return err
	}
	logCtx.Info("Conversation counted.", "userId", conv.UserID, "conversationsToday", rec.ConversationsToday)
	return nil
}

// OnMessageCreate counts a new message against the owner of its conversation.
func (f *HooksFunction) OnMessageCreate(ctx context.Context, subject string) error {
	conversationID, messageID, err := ParseSubject(subject, f.config.Collections.Conversations)
	if err != nil {
		return err
	}
	logCtx := slog.With("conversationId", conversationID, "messageId", messageID)

	rec, err := f.limiter.OnMessageCreate(ctx, conversationID)
	if err != nil {
		logCtx.Error("Failed to count message", "error", err)
		return err
	}
	logCtx.Info("Message counted.", "userId", rec.UserID, "messagesThisHour", rec.MessagesThisHour)
	return nil
}
