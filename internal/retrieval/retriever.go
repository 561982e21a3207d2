// Package retrieval implements the two-stage Retriever of spec §4.5:
// an embedding shortlist followed by a rerank pass over a small
// in-memory policy corpus, with a Redis-backed cache memoizing recent
// queries the way internal/registry caches agent records in the
// teacher repo (marshal to JSON, SET with a TTL).
package retrieval

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"modelops/orchestrator/internal/domain"
)

// Retriever is the contract consumed by the Orchestrator and
// ExecutorAgent (spec §4.5, §6).
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]domain.Evidence, error)
}

// Document is one corpus entry loaded at startup.
type Document struct {
	ID      string
	Title   string
	Snippet string
	Source  string
}

const cacheTTL = 5 * time.Minute

// EmbeddingRetriever is the default, offline Retriever: it embeds the
// query and corpus as bag-of-words vectors, shortlists by cosine
// similarity, then reranks by a blended lexical-overlap score.
type EmbeddingRetriever struct {
	corpus []Document
	vecs   [][]float64
	vocab  map[string]int
	cache  *redis.Client // optional; nil disables caching
}

// New builds a Retriever over the given corpus. cache may be nil.
func New(corpus []Document, cache *redis.Client) *EmbeddingRetriever {
	vocab := buildVocab(corpus)
	vecs := make([][]float64, len(corpus))
	for i, d := range corpus {
		vecs[i] = embed(d.Title+" "+d.Snippet, vocab)
	}
	return &EmbeddingRetriever{corpus: corpus, vecs: vecs, vocab: vocab, cache: cache}
}

// Retrieve implements Retriever. It never blocks past the caller's
// context deadline; timeouts are the caller's responsibility (spec
// §4.1 step 3 wraps this with RETRIEVE_TIMEOUT).
func (r *EmbeddingRetriever) Retrieve(ctx context.Context, query string, k int) ([]domain.Evidence, error) {
	if k <= 0 {
		return nil, nil
	}

	if r.cache != nil {
		if cached, ok := r.fromCache(ctx, query, k); ok {
			return cached, nil
		}
	}

	qv := embed(query, r.vocab)

	type scored struct {
		doc   Document
		score float64
	}
	shortlist := make([]scored, 0, len(r.corpus))
	for i, d := range r.corpus {
		sim := cosine(qv, r.vecs[i])
		if sim <= 0 {
			continue
		}
		shortlist = append(shortlist, scored{doc: d, score: sim})
	}

	// Rerank: blend cosine similarity with raw term-overlap, the
	// cross-encoder's stand-in described in spec §4.5.
	qTerms := tokenize(query)
	for i := range shortlist {
		overlap := termOverlap(qTerms, tokenize(shortlist[i].doc.Title+" "+shortlist[i].doc.Snippet))
		shortlist[i].score = 0.7*shortlist[i].score + 0.3*overlap
	}

	sort.SliceStable(shortlist, func(i, j int) bool {
		if shortlist[i].score != shortlist[j].score {
			return shortlist[i].score > shortlist[j].score
		}
		// Deterministic tie-break: document id, lexicographic (spec §9 open question).
		return shortlist[i].doc.ID < shortlist[j].doc.ID
	})

	if len(shortlist) > k {
		shortlist = shortlist[:k]
	}

	out := make([]domain.Evidence, len(shortlist))
	for i, s := range shortlist {
		out[i] = domain.Evidence{
			Title:   s.doc.Title,
			Snippet: s.doc.Snippet,
			Source:  s.doc.Source,
			Score:   clamp01(s.score),
		}
	}

	if r.cache != nil {
		r.toCache(ctx, query, k, out)
	}

	return out, nil
}

func (r *EmbeddingRetriever) cacheKey(query string, k int) string {
	return "evidence:" + query + ":" + strconv.Itoa(k)
}

func (r *EmbeddingRetriever) fromCache(ctx context.Context, query string, k int) ([]domain.Evidence, bool) {
	data, err := r.cache.Get(ctx, r.cacheKey(query, k)).Bytes()
	if err != nil {
		return nil, false
	}
	var ev []domain.Evidence
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, false
	}
	return ev, true
}

func (r *EmbeddingRetriever) toCache(ctx context.Context, query string, k int, ev []domain.Evidence) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_ = r.cache.Set(ctx, r.cacheKey(query, k), data, cacheTTL).Err()
}

func buildVocab(corpus []Document) map[string]int {
	vocab := map[string]int{}
	for _, d := range corpus {
		for _, t := range tokenize(d.Title + " " + d.Snippet) {
			if _, ok := vocab[t]; !ok {
				vocab[t] = len(vocab)
			}
		}
	}
	return vocab
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	return fields
}

func embed(s string, vocab map[string]int) []float64 {
	v := make([]float64, len(vocab))
	for _, t := range tokenize(s) {
		if idx, ok := vocab[t]; ok {
			v[idx]++
		}
	}
	return v
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func termOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := map[string]bool{}
	for _, t := range b {
		set[t] = true
	}
	hits := 0
	for _, t := range a {
		if set[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(a))
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
