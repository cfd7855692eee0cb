package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/cropsense-rag/internal/chunker"
	"github.com/Lllllllleong/cropsense-rag/internal/gcp"
	"github.com/Lllllllleong/cropsense-rag/internal/models"
	"github.com/Lllllllleong/cropsense-rag/internal/retry"
	"github.com/Lllllllleong/cropsense-rag/internal/store"
)

const testDim = 4

func testConfig() Config {
	return Config{
		ProjectID:              "test-project",
		VertexAIRegion:         "us-central1",
		Collections:            store.DefaultCollections(),
		EmbeddingDimension:     testDim,
		EmbeddingBatchSize:     20,
		Chunking:               chunker.Config{MaxChars: 512, Overlap: 50},
		TopK:                   5,
		MaxContextLength:       8000,
		SimilarityThreshold:    0.6,
		FallbackThreshold:      0.5,
		WatchPrefix:            "documents/",
		ProcessingStaleAfter:   30 * time.Minute,
		BatchIngestConcurrency: 2,
		LimitRecordTTL:         7 * 24 * time.Hour,
		FailedStatusTTL:        30 * 24 * time.Hour,
		Retry: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			Multiplier:  2,
			MaxDelay:    5 * time.Millisecond,
		},
	}
}

// fakeEmbedder maps keywords to fixed axes so similarity is predictable.
type fakeEmbedder struct {
	mu       sync.Mutex
	calls    int
	err      error
	queryVec []float32
}

var keywordAxes = []string{"corn", "wheat", "soil", "pest"}

func keywordVector(text string) []float32 {
	v := make([]float32, testDim)
	lower := strings.ToLower(text)
	for i, kw := range keywordAxes {
		v[i] = float32(strings.Count(lower, kw))
	}
	if v[0] == 0 && v[1] == 0 && v[2] == 0 && v[3] == 0 {
		v[2] = 0.01
	}
	return v
}

func (e *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrEmbeddingService, e.err)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = keywordVector(t)
	}
	return out, nil
}

func (e *fakeEmbedder) EmbedQuery(_ context.Context, query string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrEmbeddingService, e.err)
	}
	if e.queryVec != nil {
		return e.queryVec, nil
	}
	return keywordVector(query), nil
}

func (e *fakeEmbedder) Dimension() int { return testDim }

// fakeGenerator records prompts and replays scripted failures before answering.
type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	fails   []error
	answer  string
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if len(g.fails) > 0 {
		err := g.fails[0]
		g.fails = g.fails[1:]
		return "", err
	}
	if g.answer == "" {
		return "Rotate crops and test your soil.", nil
	}
	return g.answer, nil
}

func (g *fakeGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

// fakeBlobs is an in-memory bucket.
type fakeBlobs struct {
	mu       sync.Mutex
	objects  map[string]*gcp.Object
	saved    map[string]string
	failRead map[string]error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{
		objects:  make(map[string]*gcp.Object),
		saved:    make(map[string]string),
		failRead: make(map[string]error),
	}
}

func (b *fakeBlobs) Put(bucket, name string, data []byte, metadata map[string]string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[bucket+"/"+name] = &gcp.Object{Bucket: bucket, Name: name, Metadata: metadata, Data: data}
}

func (b *fakeBlobs) Download(_ context.Context, bucket, name string) (*gcp.Object, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failRead[bucket+"/"+name]; err != nil {
		return nil, err
	}
	obj, ok := b.objects[bucket+"/"+name]
	if !ok {
		return nil, fmt.Errorf("object gs://%s/%s: %w", bucket, name, models.ErrNotFound)
	}
	cp := *obj
	return &cp, nil
}

func (b *fakeBlobs) List(_ context.Context, bucket, prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var names []string
	for key, obj := range b.objects {
		if strings.HasPrefix(key, bucket+"/") && strings.HasPrefix(obj.Name, prefix) {
			names = append(names, obj.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (b *fakeBlobs) SaveAtomically(_ context.Context, bucket, name, content string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := bucket + "/" + name
	if _, ok := b.saved[key]; ok {
		return nil
	}
	b.saved[key] = content
	return nil
}

func (b *fakeBlobs) Saved(bucket, name string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.saved[bucket+"/"+name]
	return s, ok
}

var (
	_ ObjectStore = (*fakeBlobs)(nil)
	_ Embedder    = (*fakeEmbedder)(nil)
	_ Generator   = (*fakeGenerator)(nil)
)
