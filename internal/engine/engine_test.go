package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/yungbote/autoforge-backend/internal/domains"
	perrors "github.com/yungbote/autoforge-backend/internal/pkg/errors"
	"github.com/yungbote/autoforge-backend/internal/platform/logger"
	"github.com/yungbote/autoforge-backend/internal/types"
)

type searchCall struct {
	topK   int
	filter map[string]string
}

type fakeVectorStore struct {
	searchFn    func(call searchCall) []types.Document
	searches    []searchCall
	upserts     []map[string]interface{}
	incremented [][]string
}

func (f *fakeVectorStore) Upsert(_ context.Context, id, content string, vec []float32, metadata map[string]interface{}) error {
	f.upserts = append(f.upserts, metadata)
	return nil
}

func (f *fakeVectorStore) Search(_ context.Context, vec []float32, topK int, filter map[string]string) ([]types.Document, error) {
	call := searchCall{topK: topK, filter: filter}
	f.searches = append(f.searches, call)
	if f.searchFn == nil {
		return nil, nil
	}
	return f.searchFn(call), nil
}

func (f *fakeVectorStore) IncrementCounter(_ context.Context, ids []string) error {
	f.incremented = append(f.incremented, ids)
	return nil
}

type fakeGraph struct {
	expandFn       func(seeds []string, depth int) []string
	expandCalls    int
	entityErr      error
	entityUpserts  [][]types.Entity
	relationCalls  [][]types.Relation
	relationCalled bool
}

func (f *fakeGraph) UpsertEntities(_ context.Context, entities []types.Entity) error {
	f.entityUpserts = append(f.entityUpserts, entities)
	return f.entityErr
}

func (f *fakeGraph) UpsertRelations(_ context.Context, relations []types.Relation) error {
	f.relationCalled = true
	f.relationCalls = append(f.relationCalls, relations)
	return nil
}

func (f *fakeGraph) Expand(_ context.Context, seeds []string, depth int) ([]string, error) {
	f.expandCalls++
	if f.expandFn == nil {
		return nil, nil
	}
	return f.expandFn(seeds, depth), nil
}

type fakeEmbedder struct {
	calls []string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls = append(f.calls, text)
	return []float32{0.1, 0.2, 0.3}, nil
}

type llmCall struct {
	system string
	user   string
}

type fakeLLM struct {
	chatFn      func(system, user string) (string, error)
	chatJSONFn  func(system, user string) (map[string]interface{}, error)
	chatCalls   []llmCall
	jsonCalls   []llmCall
}

func (f *fakeLLM) Chat(_ context.Context, system, user string) (string, error) {
	f.chatCalls = append(f.chatCalls, llmCall{system: system, user: user})
	if f.chatFn == nil {
		return "仮説回答", nil
	}
	return f.chatFn(system, user)
}

func (f *fakeLLM) ChatJSON(_ context.Context, system, user string) (map[string]interface{}, error) {
	f.jsonCalls = append(f.jsonCalls, llmCall{system: system, user: user})
	if f.chatJSONFn == nil {
		return map[string]interface{}{}, nil
	}
	return f.chatJSONFn(system, user)
}

func testOptions() Options {
	return Options{
		MaxHops:             3,
		RAGTopK:             5,
		RerankCandidatesMax: 50,
		RerankFinalLimit:    20,
		ContextMaxChars:     2500,
	}
}

func newTestEngine(t *testing.T, store *fakeVectorStore, graph GraphStore, llm *fakeLLM, opts Options) (*Engine, *fakeEmbedder) {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	embedder := &fakeEmbedder{}
	registry := domains.NewRegistry(log)
	return New(store, graph, embedder, llm, registry, opts, log), embedder
}

func doc(id, content string) types.Document {
	return types.Document{ID: id, Content: content, Metadata: map[string]interface{}{}, Similarity: 0.9}
}

func TestSearchEmptyStore(t *testing.T) {
	store := &fakeVectorStore{}
	llm := &fakeLLM{}
	eng, embedder := newTestEngine(t, store, nil, llm, testOptions())

	results, err := eng.Search(context.Background(), "予算配分", "tenant-a", "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("results = %v, want empty", results)
	}
	if len(llm.chatCalls) != 1 {
		t.Fatalf("chat calls = %d, want 1 (hyde only)", len(llm.chatCalls))
	}
	if len(llm.jsonCalls) != 0 {
		t.Fatalf("json calls = %d, want 0", len(llm.jsonCalls))
	}
	if len(embedder.calls) != 1 {
		t.Fatalf("embed calls = %d, want 1", len(embedder.calls))
	}
	if len(store.searches) != 1 {
		t.Fatalf("vector searches = %d, want 1", len(store.searches))
	}
}

func TestSearchHopLimit(t *testing.T) {
	store := &fakeVectorStore{
		searchFn: func(searchCall) []types.Document {
			return []types.Document{doc("d1", "キャンペーンAの入札戦略")}
		},
	}
	graph := &fakeGraph{
		expandFn: func([]string, int) []string { return []string{"キャンペーンB"} },
	}
	llm := &fakeLLM{
		chatJSONFn: func(system, user string) (map[string]interface{}, error) {
			return map[string]interface{}{"entities": []interface{}{"キャンペーンA"}}, nil
		},
	}
	opts := testOptions()
	eng, _ := newTestEngine(t, store, graph, llm, opts)

	results, err := eng.Search(context.Background(), "入札", "tenant-a", "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if want := 1 + opts.MaxHops; len(store.searches) != want {
		t.Fatalf("vector searches = %d, want %d", len(store.searches), want)
	}
	if graph.expandCalls != opts.MaxHops {
		t.Fatalf("expand calls = %d, want %d", graph.expandCalls, opts.MaxHops)
	}
	// Every hop sees the same documents, so entity extraction is served
	// from cache after the first call.
	if len(llm.jsonCalls) != 1 {
		t.Fatalf("json calls = %d, want 1", len(llm.jsonCalls))
	}
	if len(store.incremented) != 1 || len(store.incremented[0]) != 1 {
		t.Fatalf("incremented = %v, want one batch with d1", store.incremented)
	}
}

func TestSearchFailsWhenEntityExtractionFails(t *testing.T) {
	store := &fakeVectorStore{
		searchFn: func(searchCall) []types.Document {
			return []types.Document{doc("d1", "キャンペーンAの入札戦略")}
		},
	}
	graph := &fakeGraph{}
	llm := &fakeLLM{
		chatJSONFn: func(string, string) (map[string]interface{}, error) {
			return nil, fmt.Errorf("%w: upstream unavailable", perrors.ErrTransport)
		},
	}
	eng, _ := newTestEngine(t, store, graph, llm, testOptions())

	results, err := eng.Search(context.Background(), "入札", "tenant-a", "")
	if !errors.Is(err, perrors.ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
	if results != nil {
		t.Fatalf("results = %v, want nil on failure", results)
	}
	if graph.expandCalls != 0 {
		t.Fatalf("expand calls = %d, want 0", graph.expandCalls)
	}
	if len(store.incremented) != 0 {
		t.Fatalf("counters bumped on a failed search: %v", store.incremented)
	}
}

func TestSearchFilterPropagation(t *testing.T) {
	store := &fakeVectorStore{}
	llm := &fakeLLM{}
	eng, _ := newTestEngine(t, store, nil, llm, testOptions())

	if _, err := eng.Search(context.Background(), "q", "tenant-a", "user-1"); err != nil {
		t.Fatalf("Search: %v", err)
	}
	got := store.searches[0].filter
	if got["tenant_id"] != "tenant-a" || got["user_id"] != "user-1" {
		t.Fatalf("filter = %v", got)
	}

	store.searches = nil
	if _, err := eng.Search(context.Background(), "q2", "tenant-b", ""); err != nil {
		t.Fatalf("Search: %v", err)
	}
	got = store.searches[0].filter
	if got["tenant_id"] != "tenant-b" {
		t.Fatalf("filter = %v", got)
	}
	if _, ok := got["user_id"]; ok {
		t.Fatalf("anonymous search must not filter on user_id: %v", got)
	}
}

func TestSearchTopKValues(t *testing.T) {
	store := &fakeVectorStore{
		searchFn: func(searchCall) []types.Document {
			return []types.Document{doc("d1", "c")}
		},
	}
	graph := &fakeGraph{expandFn: func([]string, int) []string { return []string{"n"} }}
	llm := &fakeLLM{
		chatJSONFn: func(string, string) (map[string]interface{}, error) {
			return map[string]interface{}{"entities": []interface{}{"e"}}, nil
		},
	}
	eng, _ := newTestEngine(t, store, graph, llm, testOptions())

	if _, err := eng.Search(context.Background(), "q", "t", ""); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if store.searches[0].topK != 5 {
		t.Fatalf("initial topK = %d, want 5", store.searches[0].topK)
	}
	for _, call := range store.searches[1:] {
		if call.topK != 3 {
			t.Fatalf("graph hop topK = %d, want 3", call.topK)
		}
	}
}

func TestRerankReorder(t *testing.T) {
	docs := make([]types.Document, 5)
	for i := range docs {
		docs[i] = doc(fmt.Sprintf("d%d", i), fmt.Sprintf("content %d", i))
	}
	store := &fakeVectorStore{}
	llm := &fakeLLM{
		chatJSONFn: func(system, user string) (map[string]interface{}, error) {
			return map[string]interface{}{"ranked": []interface{}{float64(3), float64(0), float64(99)}}, nil
		},
	}
	opts := testOptions()
	opts.RerankFinalLimit = 2
	eng, _ := newTestEngine(t, store, nil, llm, opts)

	got := eng.rerank(context.Background(), "q", docs)
	if len(got) != 2 || got[0].ID != "d3" || got[1].ID != "d0" {
		t.Fatalf("reranked = %v", got)
	}
}

func TestRerankFallbackOnMalformed(t *testing.T) {
	docs := make([]types.Document, 5)
	for i := range docs {
		docs[i] = doc(fmt.Sprintf("d%d", i), "c")
	}
	store := &fakeVectorStore{}
	llm := &fakeLLM{
		chatJSONFn: func(string, string) (map[string]interface{}, error) {
			return map[string]interface{}{"ranked": "garbage"}, nil
		},
	}
	opts := testOptions()
	opts.RerankFinalLimit = 3
	eng, _ := newTestEngine(t, store, nil, llm, opts)

	got := eng.rerank(context.Background(), "q", docs)
	if len(got) != 3 || got[0].ID != "d0" || got[2].ID != "d2" {
		t.Fatalf("fallback = %v, want first 3 in vector order", got)
	}
}

func TestRerankSkippedAtOrBelowLimit(t *testing.T) {
	store := &fakeVectorStore{}
	llm := &fakeLLM{}
	opts := testOptions()
	opts.RerankFinalLimit = 5
	eng, _ := newTestEngine(t, store, nil, llm, opts)

	docs := []types.Document{doc("d0", "c"), doc("d1", "c")}
	got := eng.rerank(context.Background(), "q", docs)
	if len(got) != 2 {
		t.Fatalf("rerank changed doc count: %v", got)
	}
	if len(llm.jsonCalls) != 0 {
		t.Fatalf("rerank called LLM for %d docs", len(docs))
	}
}

func TestLearnMetadataMerge(t *testing.T) {
	store := &fakeVectorStore{}
	llm := &fakeLLM{}
	eng, _ := newTestEngine(t, store, nil, llm, testOptions())

	docID, err := eng.Learn(context.Background(), "新しい事実", "tenant-a", "user-1", "", map[string]interface{}{
		"importance_score": 3.5,
		"source":           "crm",
	})
	if err != nil {
		t.Fatalf("Learn: %v", err)
	}
	if docID == "" {
		t.Fatal("empty doc id")
	}
	if len(store.upserts) != 1 {
		t.Fatalf("upserts = %d", len(store.upserts))
	}
	md := store.upserts[0]
	if md["tenant_id"] != "tenant-a" || md["user_id"] != "user-1" {
		t.Fatalf("metadata = %v", md)
	}
	if md["category"] != "general" {
		t.Fatalf("empty category should default to general, got %v", md["category"])
	}
	if md["importance_score"] != 3.5 {
		t.Fatalf("caller metadata must win: %v", md["importance_score"])
	}
	if md["source"] != "crm" {
		t.Fatalf("metadata = %v", md)
	}
	if md["access_count"] != 0 {
		t.Fatalf("access_count = %v", md["access_count"])
	}
	if _, ok := md["timestamp"]; !ok {
		t.Fatal("timestamp missing")
	}
}

func TestLearnAnonymousOmitsUserID(t *testing.T) {
	store := &fakeVectorStore{}
	llm := &fakeLLM{}
	eng, _ := newTestEngine(t, store, nil, llm, testOptions())

	if _, err := eng.Learn(context.Background(), "事実", "tenant-a", "", "ads", nil); err != nil {
		t.Fatalf("Learn: %v", err)
	}
	md := store.upserts[0]
	if _, ok := md["user_id"]; ok {
		t.Fatalf("anonymous fact carries user_id: %v", md)
	}
	if md["category"] != "ads" {
		t.Fatalf("category = %v", md["category"])
	}
}

func TestLearnExtractsRelations(t *testing.T) {
	store := &fakeVectorStore{}
	graph := &fakeGraph{}
	llm := &fakeLLM{
		chatJSONFn: func(system, user string) (map[string]interface{}, error) {
			return map[string]interface{}{"relations": []interface{}{
				[]interface{}{"会社A", "競合する", "会社B"},
				[]interface{}{"broken"},
				[]interface{}{"会社A", "所属する", "業界X"},
			}}, nil
		},
	}
	eng, _ := newTestEngine(t, store, graph, llm, testOptions())

	if _, err := eng.Learn(context.Background(), "会社Aは会社Bと競合する", "t", "", "", nil); err != nil {
		t.Fatalf("Learn: %v", err)
	}
	if len(graph.relationCalls) != 1 || len(graph.relationCalls[0]) != 2 {
		t.Fatalf("relations = %v", graph.relationCalls)
	}
	if len(graph.entityUpserts) != 1 || len(graph.entityUpserts[0]) != 3 {
		t.Fatalf("entities = %v", graph.entityUpserts)
	}
}

func TestLearnSurvivesGraphFailure(t *testing.T) {
	store := &fakeVectorStore{}
	graph := &fakeGraph{entityErr: fmt.Errorf("boom")}
	llm := &fakeLLM{
		chatJSONFn: func(string, string) (map[string]interface{}, error) {
			return map[string]interface{}{"relations": []interface{}{
				[]interface{}{"a", "r", "b"},
			}}, nil
		},
	}
	eng, _ := newTestEngine(t, store, graph, llm, testOptions())

	docID, err := eng.Learn(context.Background(), "内容", "t", "", "", nil)
	if err != nil {
		t.Fatalf("graph failure must not fail Learn: %v", err)
	}
	if docID == "" {
		t.Fatal("empty doc id")
	}
	if graph.relationCalled {
		t.Fatal("relations upserted after entity upsert failed")
	}
}

func TestProposeNoContextFallback(t *testing.T) {
	store := &fakeVectorStore{}
	var proposalPrompt string
	llm := &fakeLLM{
		chatJSONFn: func(system, user string) (map[string]interface{}, error) {
			proposalPrompt = user
			return map[string]interface{}{
				"recommendations": []interface{}{
					map[string]interface{}{
						"type":            "bid_adjustment",
						"action":          "入札を10%引き上げる",
						"specific_values": map[string]interface{}{"bid_change_percent": 10.0},
					},
				},
			}, nil
		},
	}
	eng, _ := newTestEngine(t, store, nil, llm, testOptions())

	result, err := eng.Propose(context.Background(), map[string]interface{}{"campaign": "夏セール"}, "tenant-a", "ad_optimization", nil)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if result.ProposalID == "" {
		t.Fatal("empty proposal id")
	}
	if !result.Audit.IsValid {
		t.Fatalf("audit = %v", result.Audit)
	}
	if result.ContextDocsUsed != 0 {
		t.Fatalf("context docs = %d, want 0", result.ContextDocsUsed)
	}
	if !strings.Contains(proposalPrompt, noContextFallback) {
		t.Fatalf("prompt missing fallback: %q", proposalPrompt)
	}
	if !strings.Contains(proposalPrompt, "## ユーザーデータ") || !strings.Contains(proposalPrompt, "## アカウント履歴") {
		t.Fatalf("prompt missing sections: %q", proposalPrompt)
	}
	if !strings.Contains(proposalPrompt, "夏セール") {
		t.Fatalf("prompt missing user data: %q", proposalPrompt)
	}
}

func TestProposeUnknownDomainUsesFallbackPrompt(t *testing.T) {
	store := &fakeVectorStore{}
	var systemPrompt string
	llm := &fakeLLM{
		chatJSONFn: func(system, user string) (map[string]interface{}, error) {
			systemPrompt = system
			return map[string]interface{}{
				"recommendations": []interface{}{
					map[string]interface{}{"type": "generic", "action": "分析する"},
				},
			}, nil
		},
	}
	eng, _ := newTestEngine(t, store, nil, llm, testOptions())

	result, err := eng.Propose(context.Background(), map[string]interface{}{"k": "v"}, "t", "no_such_domain", nil)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if !strings.Contains(systemPrompt, "あなたは分析エキスパートです。") {
		t.Fatalf("system prompt = %q", systemPrompt)
	}
	if !result.Audit.IsValid {
		t.Fatalf("unknown domain audit should pass: %v", result.Audit)
	}
}

func TestBuildQuery(t *testing.T) {
	got := buildQuery(map[string]interface{}{
		"b_budget": 5000,
		"a_goal":   "CPA改善",
	})
	if got != "a_goal: CPA改善 b_budget: 5000" {
		t.Fatalf("buildQuery = %q", got)
	}

	long := strings.Repeat("x", 2000)
	got = buildQuery(map[string]interface{}{"k": long})
	if len([]rune(got)) != 1000 {
		t.Fatalf("query length = %d, want 1000", len([]rune(got)))
	}
}

func TestHydeCaching(t *testing.T) {
	store := &fakeVectorStore{}
	llm := &fakeLLM{}
	eng, _ := newTestEngine(t, store, nil, llm, testOptions())

	ctx := context.Background()
	if _, err := eng.Search(ctx, "同じクエリ", "t", ""); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if _, err := eng.Search(ctx, "同じクエリ", "t", ""); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(llm.chatCalls) != 1 {
		t.Fatalf("chat calls = %d, want 1 (second search cached)", len(llm.chatCalls))
	}
}
