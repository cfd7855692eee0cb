package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/Lllllllleong/cropsense-rag/internal/models"
	"github.com/Lllllllleong/cropsense-rag/internal/store"
)

// Retriever ranks stored chunks against a query by cosine similarity. Only chunks of the
// run recorded on a completed status are candidates.
type Retriever struct {
	chunks   store.ChunkStore
	statuses store.StatusStore
	embedder Embedder
}

func NewRetriever(chunks store.ChunkStore, statuses store.StatusStore, embedder Embedder) *Retriever {
	return &Retriever{chunks: chunks, statuses: statuses, embedder: embedder}
}

// Retrieve returns at most k chunks matching filter with a score of at least minScore,
// highest score first. Equal scores keep insertion order.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, filter models.ChunkFilter, minScore float64) ([]models.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	queryVec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	committed, err := r.committedRuns(ctx)
	if err != nil {
		return nil, err
	}
	candidates, err := r.chunks.ListChunks(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}

	scored := make([]models.ScoredChunk, 0, len(candidates))
	mismatched := 0
	for _, c := range candidates {
		if run, ok := committed[c.DocumentID]; !ok || run != c.IngestRunID {
			continue
		}
		if len(c.Embedding) != len(queryVec) {
			mismatched++
			continue
		}
		score := CosineSimilarity(queryVec, c.Embedding)
		if score < minScore {
			continue
		}
		scored = append(scored, models.ScoredChunk{Chunk: c, Score: score})
	}
	if mismatched > 0 {
		slog.Warn("Skipped chunks with a different embedding dimension",
			"count", mismatched, "queryDimension", len(queryVec))
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// committedRuns maps each completed document to the run whose chunks it committed.
func (r *Retriever) committedRuns(ctx context.Context) (map[string]string, error) {
	completed, err := r.statuses.ListStatuses(ctx, models.StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed documents: %w", err)
	}
	runs := make(map[string]string, len(completed))
	for _, st := range completed {
		runs[st.DocumentID] = st.IngestRunID
	}
	return runs, nil
}

// CosineSimilarity returns the cosine of the angle between a and b clamped to [0,1]. Vectors
// of different length or zero magnitude score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return math.Max(0, math.Min(1, sim))
}

// BuildContext formats results as labelled passages for a grounded prompt. Passages are
// added in order until the next one would push the total past maxLen.
func BuildContext(results []models.ScoredChunk, maxLen int) string {
	parts := make([]string, 0, len(results))
	total := 0
	for _, r := range results {
		part := contextHeader(r) + "\n" + r.Chunk.Content + "\n"
		if maxLen > 0 && total+len(part) > maxLen {
			break
		}
		parts = append(parts, part)
		total += len(part)
	}
	return strings.Join(parts, "\n---\n")
}

func contextHeader(r models.ScoredChunk) string {
	md := r.Chunk.Metadata
	fields := []string{"Source: " + sourceTitle(r.Chunk)}
	if page := pageOf(r.Chunk); page > 0 {
		fields = append(fields, "Page: "+strconv.Itoa(page))
	}
	if md.DocumentType != "" {
		fields = append(fields, "Type: "+md.DocumentType)
	}
	if len(md.Crops) > 0 {
		fields = append(fields, "Crop: "+strings.Join(md.Crops, ", "))
	}
	if md.Region != "" {
		fields = append(fields, "Region: "+md.Region)
	}
	fields = append(fields, fmt.Sprintf("Relevance: %.2f", r.Score))
	return "[" + strings.Join(fields, ", ") + "]"
}

func pageOf(c models.Chunk) int {
	if c.PageNumber > 0 {
		return c.PageNumber
	}
	return c.Metadata.PageNumber
}

const excerptRunes = 200

// toSource builds the citation for a retrieval hit.
func toSource(r models.ScoredChunk) models.Source {
	excerpt := []rune(strings.TrimSpace(r.Chunk.Content))
	text := string(excerpt)
	if len(excerpt) > excerptRunes {
		text = strings.TrimSpace(string(excerpt[:excerptRunes])) + "..."
	}
	return models.Source{
		Title:      sourceTitle(r.Chunk),
		Excerpt:    text,
		PageNumber: pageOf(r.Chunk),
		Locator:    r.Chunk.ID,
	}
}
