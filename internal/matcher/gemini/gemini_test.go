package gemini

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/matcher"
	"github.com/spigell/jobmatch/internal/retry"
)

func fastPolicy() retry.Policy {
	return retry.Policy{Attempts: 3, Base: time.Millisecond, Cap: time.Millisecond, AttemptTimeout: time.Second}
}

type fakeEmbedResponse struct {
	values []float32
	err    error
}

type fakeEmbedClient struct {
	mu      sync.Mutex
	queue   []fakeEmbedResponse
	calls   int
	configs []*genai.EmbedContentConfig
}

func (f *fakeEmbedClient) EmbedContent(_ context.Context, _ string, _ []*genai.Content, cfg *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.configs = append(f.configs, cfg)
	if len(f.queue) == 0 {
		return nil, errors.New("unexpected call")
	}
	res := f.queue[0]
	f.queue = f.queue[1:]
	if res.err != nil {
		return nil, res.err
	}
	return &genai.EmbedContentResponse{Embeddings: []*genai.ContentEmbedding{{Values: res.values}}}, nil
}

// staticEmbedder maps exact texts to vectors.
type staticEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (s *staticEmbedder) Embed(_ context.Context, text, _ string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (s *staticEmbedder) Model() string { return "static" }

type memoryVectors struct {
	mu   sync.Mutex
	docs map[string]Document
	err  error
}

func newMemoryVectors() *memoryVectors {
	return &memoryVectors{docs: make(map[string]Document)}
}

func (m *memoryVectors) Put(_ context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.docs[doc.SourceID] = doc
	return nil
}

func (m *memoryVectors) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.docs[id]
	delete(m.docs, id)
	return ok, nil
}

func (m *memoryVectors) All(_ context.Context) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]Document, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out, nil
}

func TestEmbedderRetriesOnTemporaryError(t *testing.T) {
	client := &fakeEmbedClient{queue: []fakeEmbedResponse{
		{err: genai.APIError{Code: http.StatusInternalServerError, Status: "INTERNAL"}},
		{values: []float32{1, 2, 3}},
	}}
	e := newEmbedder(client, "", 256, zap.NewNop()).WithRetryPolicy(fastPolicy())

	vec, err := e.Embed(context.Background(), "Go developer", TaskQuery)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(vec) != 3 || client.calls != 2 {
		t.Fatalf("unexpected vec=%v calls=%d", vec, client.calls)
	}
	cfg := client.configs[0]
	if cfg.TaskType != TaskQuery || cfg.OutputDimensionality == nil || *cfg.OutputDimensionality != 256 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if e.Model() != defaultModel {
		t.Fatalf("expected default model, got %q", e.Model())
	}
}

func TestEmbedderDoesNotRetryQuota(t *testing.T) {
	client := &fakeEmbedClient{queue: []fakeEmbedResponse{
		{err: genai.APIError{Code: http.StatusTooManyRequests, Status: "RESOURCE_EXHAUSTED", Message: "quota exhausted"}},
	}}
	e := newEmbedder(client, "m", 0, zap.NewNop()).WithRetryPolicy(fastPolicy())

	_, err := e.Embed(context.Background(), "Go developer", TaskQuery)
	if !errors.Is(err, jobs.ErrMatcherQuotaExhausted) {
		t.Fatalf("expected quota exhausted, got %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("expected single call, got %d", client.calls)
	}
}

func TestEmbedderStopsAfterRetriesExhausted(t *testing.T) {
	tempErr := genai.APIError{Code: http.StatusServiceUnavailable, Status: "UNAVAILABLE"}
	client := &fakeEmbedClient{queue: []fakeEmbedResponse{{err: tempErr}, {err: tempErr}, {err: tempErr}}}
	e := newEmbedder(client, "m", 0, zap.NewNop()).WithRetryPolicy(fastPolicy())

	_, err := e.Embed(context.Background(), "Go developer", TaskDocument)
	if !errors.Is(err, jobs.ErrMatcherUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if client.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", client.calls)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      error
		retryable bool
	}{
		{name: "quota by code", err: genai.APIError{Code: 429}, kind: jobs.ErrMatcherQuotaExhausted},
		{name: "quota by status", err: &genai.APIError{Code: 400, Status: "RESOURCE_EXHAUSTED"}, kind: jobs.ErrMatcherQuotaExhausted},
		{name: "not found", err: genai.APIError{Code: 404}, kind: jobs.ErrMatcherNotFound},
		{name: "server error", err: genai.APIError{Code: 502}, kind: jobs.ErrMatcherUnavailable, retryable: true},
		{name: "bad request", err: genai.APIError{Code: 400}, kind: jobs.ErrMatcherUnavailable},
		{name: "transport", err: errors.New("connection reset"), kind: jobs.ErrMatcherUnavailable, retryable: true},
		{name: "timeout", err: context.DeadlineExceeded, kind: jobs.ErrMatcherUnavailable, retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("op", tt.err)
			if !errors.Is(err, tt.kind) {
				t.Fatalf("expected %v, got %v", tt.kind, err)
			}
			var c *jobs.Error
			if !errors.As(err, &c) || c.IsRetryable() != tt.retryable {
				t.Fatalf("expected retryable=%v, got %v", tt.retryable, err)
			}
		})
	}

	if err := classify("op", context.Canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to pass through, got %v", err)
	}
}

func indexedRecord(id, title, location string, remote bool) jobs.Record {
	return jobs.Record{Posting: jobs.Posting{
		SourceID:       id,
		Title:          title,
		Location:       location,
		EmploymentType: jobs.FullTime,
		JobLevel:       jobs.MidLevel,
		IsRemote:       remote,
	}}
}

func TestIndexSearchRanksAndFilters(t *testing.T) {
	ctx := context.Background()
	emb := &staticEmbedder{vectors: map[string][]float32{
		"Go developer":        {1, 0, 0},
		"Go Engineer\nLondon": {0.9, 0.1, 0},
		"Go Lead\nBerlin":     {0.8, 0.2, 0},
		"Pastry Chef\nLondon": {-1, 0, 0},
	}}
	vectors := newMemoryVectors()
	idx := NewIndex(emb, vectors, zap.NewNop()).WithRetryPolicy(fastPolicy())

	for _, rec := range []jobs.Record{
		indexedRecord("1", "Go Engineer", "London", false),
		indexedRecord("2", "Go Lead", "Berlin", true),
		indexedRecord("3", "Pastry Chef", "London", false),
	} {
		ref, err := idx.Index(ctx, rec)
		if err != nil {
			t.Fatalf("index %s: %v", rec.SourceID, err)
		}
		if ref != matcher.RefFor(rec.SourceID) {
			t.Fatalf("unexpected ref %q", ref)
		}
	}

	hits, err := idx.Search(ctx, "Go developer", jobs.Filters{}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 3 || hits[0].Ref != "jobs/1" || hits[1].Ref != "jobs/2" {
		t.Fatalf("unexpected ranking: %+v", hits)
	}
	for _, h := range hits {
		if h.Score < 0 || h.Score > 1 {
			t.Fatalf("score out of bounds: %+v", h)
		}
	}
	if hits[2].Score != 0 {
		t.Fatalf("expected opposite vector to clamp to 0, got %f", hits[2].Score)
	}

	remote := true
	minSalary := 1e9
	hits, _ = idx.Search(ctx, "Go developer", jobs.Filters{RemoteOnly: &remote, MinSalary: &minSalary}, 10)
	if len(hits) != 1 || hits[0].Ref != "jobs/2" {
		t.Fatalf("expected only the remote posting, got %+v", hits)
	}

	hits, _ = idx.Search(ctx, "Go developer", jobs.Filters{}, 1)
	if len(hits) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(hits))
	}
}

func TestIndexRetract(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex(&staticEmbedder{}, newMemoryVectors(), zap.NewNop()).WithRetryPolicy(fastPolicy())

	ref, err := idx.Index(ctx, indexedRecord("1", "Go Engineer", "London", false))
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if err := idx.Retract(ctx, ref); err != nil {
		t.Fatalf("retract: %v", err)
	}
	if err := idx.Retract(ctx, ref); !errors.Is(err, jobs.ErrMatcherNotFound) {
		t.Fatalf("expected not found on second retract, got %v", err)
	}
	if err := idx.Retract(ctx, "garbage"); !errors.Is(err, jobs.ErrMatcherNotFound) {
		t.Fatalf("expected not found for malformed ref, got %v", err)
	}
}

func TestIndexStorageFailureIsUnavailable(t *testing.T) {
	vectors := newMemoryVectors()
	vectors.err = errors.New("redis: connection refused")
	idx := NewIndex(&staticEmbedder{}, vectors, zap.NewNop()).WithRetryPolicy(fastPolicy())

	_, err := idx.Search(context.Background(), "Go", jobs.Filters{}, 10)
	if !errors.Is(err, jobs.ErrMatcherUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestVectorEncoding(t *testing.T) {
	in := []float32{0.5, -1.25, 3}
	out, err := decodeVector(encodeVector(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("position %d: %f != %f", i, in[i], out[i])
		}
	}
	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for truncated vector")
	}
}
