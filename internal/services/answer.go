package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Lllllllleong/cropsense-rag/internal/cache"
	"github.com/Lllllllleong/cropsense-rag/internal/gcp"
	"github.com/Lllllllleong/cropsense-rag/internal/models"
	"github.com/Lllllllleong/cropsense-rag/internal/ratelimit"
	"github.com/Lllllllleong/cropsense-rag/internal/retry"
	"github.com/Lllllllleong/cropsense-rag/internal/store"
	"github.com/oklog/ulid/v2"
)

// User-facing messages for answers that could not be generated.
const (
	RateLimitMessage = "Rate limit exceeded. Please try again in a few minutes."
	DegradedMessage  = "I'm having trouble generating a response right now. Please try again."
)

const anonymousUser = "anonymous"

// ErrInvalidRequest marks a request the caller must fix.
var ErrInvalidRequest = errors.New("invalid request")

// AnswerSettings are the tunables of the answer generator.
type AnswerSettings struct {
	TopK             int
	MaxContextLength int
	// Threshold is the lowest top score that still produces a grounded answer.
	Threshold float64
	Retry     retry.Policy
}

// Answerer runs the query path: rate limit, cache, retrieval, generation.
type Answerer struct {
	retriever *Retriever
	generator Generator
	cache     cache.Cache
	limiter   RequestLimiter
	settings  AnswerSettings
	now       func() time.Time
}

// NewAnswerer wires the query path. c and limiter may be nil to disable caching or rate
// limiting.
func NewAnswerer(retriever *Retriever, generator Generator, c cache.Cache, limiter RequestLimiter, settings AnswerSettings) *Answerer {
	return &Answerer{
		retriever: retriever,
		generator: generator,
		cache:     c,
		limiter:   limiter,
		settings:  settings,
		now:       time.Now,
	}
}

// SelectMode applies the fallback rule: grounded when there are results and the best score
// reaches the threshold, direct otherwise.
func SelectMode(topScore, threshold float64, hasResults bool) models.Mode {
	if hasResults && topScore >= threshold {
		return models.ModeGrounded
	}
	return models.ModeDirect
}

// Answer never fails. Rate limiting, retrieval trouble and generation failures all resolve
// to a response whose Mode says what happened.
func (a *Answerer) Answer(ctx context.Context, query, userID string) *models.RAGResponse {
	start := a.now()
	logCtx := slog.With("userId", userID)

	if a.limiter != nil {
		if err := a.limiter.Allow(ctx, userID); err != nil {
			if errors.Is(err, models.ErrRateLimitExceeded) {
				logCtx.Info("Request rejected by rate limiter.", "reason", err.Error())
				return a.finish(&models.RAGResponse{Answer: RateLimitMessage, Mode: models.ModeRateLimit}, start)
			}
			logCtx.Warn("Rate limiter unavailable, admitting request.", "error", err)
		}
	}

	if a.cache != nil {
		cached, ok, err := a.cache.Get(ctx, query)
		if err != nil {
			logCtx.Warn("Answer cache read failed.", "error", err)
		}
		if ok {
			logCtx.Info("Answer served from cache.", "mode", cached.Mode)
			cached.Cached = true
			cached.Timing = models.Timing{}
			return a.finish(cached, start)
		}
	}

	retrievalStart := a.now()
	results, err := a.retriever.Retrieve(ctx, query, a.settings.TopK, models.ChunkFilter{}, 0)
	if err != nil {
		logCtx.Warn("Retrieval failed, answering without context.", "error", err)
		results = nil
	}
	retrievalMs := a.now().Sub(retrievalStart).Milliseconds()

	var topScore float64
	if len(results) > 0 {
		topScore = results[0].Score
	}
	mode := SelectMode(topScore, a.settings.Threshold, len(results) > 0)

	var prompt string
	sources := []models.Source{}
	if mode == models.ModeGrounded {
		prompt = fmt.Sprintf(gcp.GroundedPromptTemplate, BuildContext(results, a.settings.MaxContextLength), query)
		for _, r := range results {
			sources = append(sources, toSource(r))
		}
	} else {
		prompt = fmt.Sprintf(gcp.DirectPromptTemplate, query)
	}
	logCtx.Info("Generating answer.", "mode", mode, "results", len(results), "topScore", topScore)

	generationStart := a.now()
	answer, err := retry.Do(ctx, a.settings.Retry, "generate", func(ctx context.Context) (string, error) {
		return a.generator.Generate(ctx, prompt)
	})
	generationMs := a.now().Sub(generationStart).Milliseconds()
	if err != nil {
		logCtx.Error("Answer generation failed.", "mode", mode, "error", err)
		resp := &models.RAGResponse{Answer: DegradedMessage, Sources: []models.Source{}, Mode: models.ModeError, TopScore: topScore}
		resp.Timing.RetrievalMs = retrievalMs
		return a.finish(resp, start)
	}

	resp := &models.RAGResponse{
		Answer:   strings.TrimSpace(answer),
		Sources:  sources,
		Mode:     mode,
		TopScore: topScore,
		Timing:   models.Timing{RetrievalMs: retrievalMs, GenerationMs: generationMs},
	}
	if a.cache != nil {
		if err := a.cache.Set(ctx, query, resp); err != nil {
			logCtx.Warn("Answer cache write failed.", "error", err)
		}
	}
	return a.finish(resp, start)
}

func (a *Answerer) finish(resp *models.RAGResponse, start time.Time) *models.RAGResponse {
	if resp.Sources == nil {
		resp.Sources = []models.Source{}
	}
	resp.Timing.TotalMs = a.now().Sub(start).Milliseconds()
	return resp
}

// AnswerFunction serves the answer HTTP function.
type AnswerFunction struct {
	conversations store.ConversationStore
	answerer      *Answerer
	config        Config
}

// NewAnswer builds the answer function from the environment.
func NewAnswer(ctx context.Context) (*AnswerFunction, error) {
	config, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	fsStore, err := newFirestoreStore(ctx, config)
	if err != nil {
		return nil, err
	}
	embedder, err := newEmbedder(ctx, config)
	if err != nil {
		return nil, err
	}
	vertexClient, err := gcp.NewVertexClient(ctx, config.ProjectID, config.VertexAIRegion, config.GenerationModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	answerer := NewAnswerer(
		NewRetriever(fsStore, fsStore, embedder),
		vertexClient,
		newCache(ctx, config),
		ratelimit.New(fsStore, fsStore, config.Quotas),
		AnswerSettings{
			TopK:             config.TopK,
			MaxContextLength: config.MaxContextLength,
			Threshold:        config.FallbackThreshold,
			Retry:            config.Retry,
		},
	)
	slog.Info("Answer function initialized.", "model", config.GenerationModel, "threshold", config.FallbackThreshold)
	return NewAnswerFunction(fsStore, answerer, *config), nil
}

func NewAnswerFunction(conversations store.ConversationStore, answerer *Answerer, config Config) *AnswerFunction {
	return &AnswerFunction{conversations: conversations, answerer: answerer, config: config}
}

// Process answers one query. Only a malformed request produces an error.
func (f *AnswerFunction) Process(ctx context.Context, req *models.AnswerRequest) (*models.AnswerResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", ErrInvalidRequest)
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = ulid.Make().String()
	}
	userID := f.resolveUser(ctx, req.UserID, req.ConversationID)

	resp := f.answerer.Answer(ctx, query, userID)
	return &models.AnswerResponse{
		Message: models.AnswerMessage{
			Role:    "assistant",
			Content: resp.Answer,
			Sources: resp.Sources,
		},
		ConversationID: conversationID,
		Mode:           resp.Mode,
		Cached:         resp.Cached,
	}, nil
}

// resolveUser prefers the explicit user, then the conversation owner.
func (f *AnswerFunction) resolveUser(ctx context.Context, userID, conversationID string) string {
	if userID != "" {
		return userID
	}
	if conversationID != "" && f.conversations != nil {
		conv, err := f.conversations.GetConversation(ctx, conversationID)
		switch {
		case err == nil && conv.UserID != "":
			return conv.UserID
		case err != nil && !errors.Is(err, models.ErrNotFound):
			slog.Warn("Could not resolve conversation owner.", "conversationId", conversationID, "error", err)
		}
	}
	return anonymousUser
}
