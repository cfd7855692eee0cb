package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/Lllllllleong/cropsense-rag/internal/cache"
	"github.com/Lllllllleong/cropsense-rag/internal/models"
	"github.com/Lllllllleong/cropsense-rag/internal/ratelimit"
	"github.com/Lllllllleong/cropsense-rag/internal/store"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type answerFixture struct {
	store     *store.MemoryStore
	embedder  *fakeEmbedder
	generator *fakeGenerator
	cache     *cache.Memory
	answerer  *Answerer
}

func newAnswerFixture(t *testing.T, limiter RequestLimiter) *answerFixture {
	t.Helper()
	cfg := testConfig()
	f := &answerFixture{
		store:     store.NewMemoryStore(),
		embedder:  &fakeEmbedder{queryVec: []float32{1, 0, 0, 0}},
		generator: &fakeGenerator{},
		cache:     cache.NewMemory(time.Hour, 100),
	}
	f.answerer = NewAnswerer(NewRetriever(f.store, f.store, f.embedder), f.generator, f.cache, limiter, AnswerSettings{
		TopK:             cfg.TopK,
		MaxContextLength: cfg.MaxContextLength,
		Threshold:        cfg.FallbackThreshold,
		Retry:            cfg.Retry,
	})
	return f
}

// vectorWithScore returns a unit vector whose cosine with (1,0,0,0) is score.
func vectorWithScore(score float64) []float32 {
	return []float32{float32(score), float32(math.Sqrt(1 - score*score)), 0, 0}
}

func TestSelectMode(t *testing.T) {
	assert.Equal(t, models.ModeGrounded, SelectMode(0.8, 0.5, true))
	assert.Equal(t, models.ModeGrounded, SelectMode(0.5, 0.5, true))
	assert.Equal(t, models.ModeDirect, SelectMode(0.49, 0.5, true))
	assert.Equal(t, models.ModeDirect, SelectMode(0, 0, false))
}

func TestAnswerBelowThresholdIsDirect(t *testing.T) {
	f := newAnswerFixture(t, nil)
	putChunk(t, f.store, "soil", 0, "Soil pH basics.", vectorWithScore(0.45), models.ChunkMetadata{})

	resp := f.answerer.Answer(context.Background(), "How do I raise corn yield?", "farmer")

	assert.Equal(t, models.ModeDirect, resp.Mode)
	assert.Empty(t, resp.Sources)
	assert.NotNil(t, resp.Sources)
	assert.InDelta(t, 0.45, resp.TopScore, 1e-6)
	require.Equal(t, 1, f.generator.Calls())
	assert.NotContains(t, f.generator.prompts[0], "Soil pH basics.")
}

func TestAnswerAboveThresholdIsGrounded(t *testing.T) {
	f := newAnswerFixture(t, nil)
	putChunk(t, f.store, "corn", 0, "Side-dress nitrogen at V6.", vectorWithScore(0.9), models.ChunkMetadata{Source: "corn.pdf"})
	putChunk(t, f.store, "corn", 1, "Scout for rootworm in July.", vectorWithScore(0.7), models.ChunkMetadata{Source: "corn.pdf"})

	resp := f.answerer.Answer(context.Background(), "When should I add nitrogen to corn?", "farmer")

	assert.Equal(t, models.ModeGrounded, resp.Mode)
	require.Len(t, resp.Sources, 2)
	assert.Equal(t, "corn.pdf", resp.Sources[0].Title)
	assert.Equal(t, models.ChunkID("corn", 0), resp.Sources[0].Locator)
	require.Equal(t, 1, f.generator.Calls())
	prompt := f.generator.prompts[0]
	assert.Contains(t, prompt, "Side-dress nitrogen at V6.")
	assert.Contains(t, prompt, "When should I add nitrogen to corn?")
	assert.Equal(t, "Rotate crops and test your soil.", resp.Answer)
}

func TestAnswerAtThresholdIsGrounded(t *testing.T) {
	f := newAnswerFixture(t, nil)
	putChunk(t, f.store, "corn", 0, "Boundary chunk.", []float32{1, 0, 0, 0}, models.ChunkMetadata{})
	f.answerer.settings.Threshold = 1

	resp := f.answerer.Answer(context.Background(), "q", "farmer")
	assert.Equal(t, models.ModeGrounded, resp.Mode)
}

func TestAnswerWithNoChunksIsDirect(t *testing.T) {
	f := newAnswerFixture(t, nil)
	resp := f.answerer.Answer(context.Background(), "q", "farmer")
	assert.Equal(t, models.ModeDirect, resp.Mode)
	assert.Empty(t, resp.Sources)
}

func TestAnswerServedFromCache(t *testing.T) {
	f := newAnswerFixture(t, nil)
	putChunk(t, f.store, "corn", 0, "Side-dress nitrogen at V6.", vectorWithScore(0.9), models.ChunkMetadata{})
	ctx := context.Background()

	first := f.answerer.Answer(ctx, "Corn nitrogen timing", "farmer")
	require.False(t, first.Cached)
	embedCalls := f.embedder.calls

	second := f.answerer.Answer(ctx, "  corn NITROGEN timing ", "farmer")
	assert.True(t, second.Cached)
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, first.Mode, second.Mode)
	assert.Len(t, second.Sources, 1)
	assert.Equal(t, 1, f.generator.Calls())
	assert.Equal(t, embedCalls, f.embedder.calls)
}

func TestAnswerRateLimited(t *testing.T) {
	s := store.NewMemoryStore()
	limiter := ratelimit.New(s, s, ratelimit.Quotas{MaxRequestsPerHour: 2})
	f := newAnswerFixture(t, limiter)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		resp := f.answerer.Answer(ctx, "question "+strings.Repeat("?", i), "farmer")
		assert.Equal(t, models.ModeDirect, resp.Mode)
	}
	resp := f.answerer.Answer(ctx, "another question", "farmer")
	assert.Equal(t, models.ModeRateLimit, resp.Mode)
	assert.Equal(t, RateLimitMessage, resp.Answer)
	assert.Equal(t, 2, f.generator.Calls())

	other := f.answerer.Answer(ctx, "another question", "neighbour")
	assert.Equal(t, models.ModeDirect, other.Mode)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) error { return errors.New("firestore unavailable") }

func TestAnswerLimiterOutageAdmits(t *testing.T) {
	f := newAnswerFixture(t, brokenLimiter{})
	resp := f.answerer.Answer(context.Background(), "q", "farmer")
	assert.Equal(t, models.ModeDirect, resp.Mode)
	assert.Equal(t, 1, f.generator.Calls())
}

func TestAnswerRetriesThenSucceeds(t *testing.T) {
	f := newAnswerFixture(t, nil)
	unavailable := status.Error(codes.Unavailable, "backend busy")
	f.generator.fails = []error{unavailable, unavailable}

	resp := f.answerer.Answer(context.Background(), "q", "farmer")
	assert.Equal(t, models.ModeDirect, resp.Mode)
	assert.Equal(t, 3, f.generator.Calls())
}

func TestAnswerDegradesAfterExhaustion(t *testing.T) {
	f := newAnswerFixture(t, nil)
	unavailable := status.Error(codes.Unavailable, "backend busy")
	f.generator.fails = []error{unavailable, unavailable, unavailable}
	ctx := context.Background()

	resp := f.answerer.Answer(ctx, "q", "farmer")
	assert.Equal(t, models.ModeError, resp.Mode)
	assert.Equal(t, DegradedMessage, resp.Answer)
	assert.Equal(t, 3, f.generator.Calls())

	// Degraded answers are not cached.
	_, hit, err := f.cache.Get(ctx, "q")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestAnswerAuthFailureIsNotRetried(t *testing.T) {
	f := newAnswerFixture(t, nil)
	f.generator.fails = []error{status.Error(codes.PermissionDenied, "no access")}

	resp := f.answerer.Answer(context.Background(), "q", "farmer")
	assert.Equal(t, models.ModeError, resp.Mode)
	assert.Equal(t, 1, f.generator.Calls())
}

func TestAnswerRetrievalFailureFallsBackToDirect(t *testing.T) {
	f := newAnswerFixture(t, nil)
	f.embedder.err = errors.New("embedding quota")

	resp := f.answerer.Answer(context.Background(), "q", "farmer")
	assert.Equal(t, models.ModeDirect, resp.Mode)
	assert.Equal(t, 1, f.generator.Calls())
}

func TestAnswerFunctionProcess(t *testing.T) {
	f := newAnswerFixture(t, nil)
	f.store.PutConversation(models.Conversation{ID: "conv-1", UserID: "owner"})
	fn := NewAnswerFunction(f.store, f.answerer, testConfig())
	ctx := context.Background()

	_, err := fn.Process(ctx, &models.AnswerRequest{Query: "   "})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	resp, err := fn.Process(ctx, &models.AnswerRequest{Query: "When to plant corn?"})
	require.NoError(t, err)
	assert.Equal(t, "assistant", resp.Message.Role)
	assert.NotEmpty(t, resp.Message.Content)
	assert.NotNil(t, resp.Message.Sources)
	_, err = ulid.Parse(resp.ConversationID)
	assert.NoError(t, err)

	resp, err = fn.Process(ctx, &models.AnswerRequest{Query: "When to plant wheat?", ConversationID: "conv-1"})
	require.NoError(t, err)
	assert.Equal(t, "conv-1", resp.ConversationID)
}

func TestResolveUser(t *testing.T) {
	s := store.NewMemoryStore()
	s.PutConversation(models.Conversation{ID: "conv-1", UserID: "owner"})
	fn := NewAnswerFunction(s, nil, testConfig())
	ctx := context.Background()

	assert.Equal(t, "explicit", fn.resolveUser(ctx, "explicit", "conv-1"))
	assert.Equal(t, "owner", fn.resolveUser(ctx, "", "conv-1"))
	assert.Equal(t, anonymousUser, fn.resolveUser(ctx, "", "missing"))
	assert.Equal(t, anonymousUser, fn.resolveUser(ctx, "", ""))
}
