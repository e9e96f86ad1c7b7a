package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/autoforge-backend/internal/observability"
	"github.com/yungbote/autoforge-backend/internal/platform/logger"
	"github.com/yungbote/autoforge-backend/internal/types"
)

// VectorStore is the document store the engine retrieves from.
type VectorStore interface {
	Upsert(ctx context.Context, id, content string, vec []float32, metadata map[string]interface{}) error
	Search(ctx context.Context, vec []float32, topK int, filter map[string]string) ([]types.Document, error)
	IncrementCounter(ctx context.Context, ids []string) error
}

// GraphStore is the entity graph used for multi-hop expansion. It may be
// absent; the engine degrades to plain vector retrieval.
type GraphStore interface {
	UpsertEntities(ctx context.Context, entities []types.Entity) error
	UpsertRelations(ctx context.Context, relations []types.Relation) error
	Expand(ctx context.Context, seeds []string, depth int) ([]string, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type LLMClient interface {
	Chat(ctx context.Context, system, user string) (string, error)
	ChatJSON(ctx context.Context, system, user string) (map[string]interface{}, error)
}

// DomainRegistry supplies the per-domain system prompt and audit rules.
type DomainRegistry interface {
	Prompt(domain string) string
	Audit(proposal map[string]interface{}, domain string) types.AuditResult
}

// Options carry the retrieval tuning knobs.
type Options struct {
	MaxHops             int
	RAGTopK             int
	RerankCandidatesMax int
	RerankFinalLimit    int
	ContextMaxChars     int
}

// Engine is the core retrieval and proposal pipeline: HyDE retrieval with
// graph-backed multi-hop expansion, LLM reranking, relation extraction on
// ingest, and domain-audited proposal generation.
type Engine struct {
	store    VectorStore
	graph    GraphStore
	embedder Embedder
	llm      LLMClient
	domains  DomainRegistry
	cache    *Cache
	opts     Options
	log      *logger.Logger
}

func New(store VectorStore, graph GraphStore, embedder Embedder, llm LLMClient, domains DomainRegistry, opts Options, log *logger.Logger) *Engine {
	return &Engine{
		store:    store,
		graph:    graph,
		embedder: embedder,
		llm:      llm,
		domains:  domains,
		cache:    NewCache(),
		opts:     opts,
		log:      log.With("engine", "ContextEngine"),
	}
}

// ProposeResult is what Propose hands back to the HTTP layer.
type ProposeResult struct {
	ProposalID      string
	Proposal        map[string]interface{}
	Audit           types.AuditResult
	ContextDocsUsed int
}

// ── HyDE ──

const hydePrompt = "あなたはドメインエキスパートです。" +
	"以下の質問に対して、ナレッジベースに存在しそうな理想的な回答文を生成してください。" +
	"実際の正確さは重要ではなく、検索に役立つ文体・用語を含めてください。"

func (e *Engine) generateHyde(ctx context.Context, query string) (string, error) {
	if cached, ok := e.cache.Get("hyde", query); ok {
		if text, ok := cached.(string); ok && text != "" {
			return text, nil
		}
	}
	text, err := e.llm.Chat(ctx, hydePrompt, query)
	if err != nil {
		return "", err
	}
	e.cache.Set("hyde", query, text, hydeTTL)
	return text, nil
}

// ── Entity extraction ──

const entityPrompt = "テキストからキーエンティティを抽出し、" +
	`{"entities": ["entity1", "entity2"]} 形式のJSONで返してください。` +
	"最大5個まで。"

func (e *Engine) extractEntities(ctx context.Context, text string) ([]string, error) {
	key := truncateRunes(text, 200)
	if cached, ok := e.cache.Get("ent", key); ok {
		if entities, ok := cached.([]string); ok && len(entities) > 0 {
			return entities, nil
		}
	}

	out, err := e.llm.ChatJSON(ctx, entityPrompt, truncateRunes(text, 800))
	if err != nil {
		return nil, err
	}
	raw, _ := out["entities"].([]interface{})
	entities := make([]string, 0, 5)
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			entities = append(entities, s)
		}
		if len(entities) == 5 {
			break
		}
	}
	e.cache.Set("ent", key, entities, entityTTL)
	return entities, nil
}

// ── Relation extraction ──

const relationPrompt = `知識グラフ構築エキスパートとして、テキストから事実に基づく関係性を抽出してください。
出力形式: {"relations": [["主体", "関係", "客体"], ...]}
関係の例: 開発者, 一部である, 含む, 所属する, 依存する, 競合する, 位置する
最大5つまで。`

func (e *Engine) extractRelations(ctx context.Context, text string) ([]types.Relation, error) {
	key := truncateRunes(text, 200)
	if cached, ok := e.cache.Get("rel", key); ok {
		if relations, ok := cached.([]types.Relation); ok && len(relations) > 0 {
			return relations, nil
		}
	}

	out, err := e.llm.ChatJSON(ctx, relationPrompt, truncateRunes(text, 800))
	if err != nil {
		return nil, err
	}
	raw, _ := out["relations"].([]interface{})
	relations := make([]types.Relation, 0, 5)
	for _, item := range raw {
		triple, ok := item.([]interface{})
		if !ok || len(triple) < 3 {
			continue
		}
		src, okS := triple[0].(string)
		rel, okR := triple[1].(string)
		tgt, okT := triple[2].(string)
		if !okS || !okR || !okT {
			continue
		}
		relations = append(relations, types.Relation{Source: src, Relation: rel, Target: tgt})
		if len(relations) == 5 {
			break
		}
	}
	e.cache.Set("rel", key, relations, relationTTL)
	return relations, nil
}

// ── Reranking ──

func (e *Engine) rerank(ctx context.Context, query string, docs []types.Document) []types.Document {
	if len(docs) <= e.opts.RerankFinalLimit {
		return docs
	}
	start := time.Now()

	candidates := docs
	if len(candidates) > e.opts.RerankCandidatesMax {
		candidates = candidates[:e.opts.RerankCandidatesMax]
	}
	var summaries strings.Builder
	for i, doc := range candidates {
		if i > 0 {
			summaries.WriteByte('\n')
		}
		fmt.Fprintf(&summaries, "[%d] %s", i, truncateRunes(doc.Content, 150))
	}

	system := fmt.Sprintf(
		"以下の検索結果をクエリとの関連度で並べ替え、上位%d件のインデックスをJSON配列で返してください。形式: {\"ranked\": [0, 3, 1, ...]}",
		e.opts.RerankFinalLimit,
	)
	user := fmt.Sprintf("クエリ: %s\n\n検索結果:\n%s", query, summaries.String())

	out, err := e.llm.ChatJSON(ctx, system, user)
	if err != nil {
		e.log.Warn("Rerank failed, keeping vector order", "error", err)
		return docs[:e.opts.RerankFinalLimit]
	}

	ranked, _ := out["ranked"].([]interface{})
	reranked := make([]types.Document, 0, e.opts.RerankFinalLimit)
	for _, item := range ranked {
		if len(reranked) == e.opts.RerankFinalLimit {
			break
		}
		idx, ok := item.(float64)
		if !ok {
			continue
		}
		i := int(idx)
		if float64(i) == idx && i >= 0 && i < len(docs) {
			reranked = append(reranked, docs[i])
		}
	}
	if len(reranked) == 0 {
		reranked = docs[:e.opts.RerankFinalLimit]
	}

	observability.Current().ObserveRerank(time.Since(start))
	return reranked
}

// ── Search ──

// Search runs the full retrieval pipeline: HyDE, initial vector search,
// up to MaxHops rounds of graph expansion, then reranking. Every returned
// document has its access counter bumped.
func (e *Engine) Search(ctx context.Context, query, tenantID, userID string) ([]types.Document, error) {
	hydeText, err := e.generateHyde(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("hyde: %w", err)
	}
	hydeVector, err := e.embedder.Embed(ctx, hydeText)
	if err != nil {
		return nil, fmt.Errorf("embed hyde: %w", err)
	}

	filter := map[string]string{"tenant_id": tenantID}
	if userID != "" {
		filter["user_id"] = userID
	}

	initial, err := e.store.Search(ctx, hydeVector, e.opts.RAGTopK, filter)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	seen := map[string]bool{}
	var docs []types.Document
	for _, doc := range initial {
		if !seen[doc.ID] {
			seen[doc.ID] = true
			docs = append(docs, doc)
		}
	}

	for hop := 0; hop < e.opts.MaxHops; hop++ {
		if len(docs) == 0 {
			break
		}

		parts := make([]string, 0, len(docs))
		for _, doc := range docs {
			parts = append(parts, truncateRunes(doc.Content, 200))
		}
		entities, err := e.extractEntities(ctx, strings.Join(parts, " "))
		if err != nil {
			return nil, fmt.Errorf("entity extraction: %w", err)
		}

		if e.graph != nil && len(entities) > 0 {
			neighbors, err := e.graph.Expand(ctx, entities, 1)
			if err != nil {
				e.log.Warn("Graph expansion failed, skipping hop", "hop", hop, "error", err)
			} else if len(neighbors) > 0 {
				neighborVector, err := e.embedder.Embed(ctx, strings.Join(neighbors, " "))
				if err != nil {
					return nil, fmt.Errorf("embed neighbors: %w", err)
				}
				graphDocs, err := e.store.Search(ctx, neighborVector, 3, filter)
				if err != nil {
					return nil, fmt.Errorf("graph vector search: %w", err)
				}
				for _, doc := range graphDocs {
					if !seen[doc.ID] {
						seen[doc.ID] = true
						docs = append(docs, doc)
					}
				}
			}
		}

		if len(docs) >= e.opts.RerankCandidatesMax {
			break
		}
	}

	if len(docs) > e.opts.RerankFinalLimit {
		docs = e.rerank(ctx, query, docs)
	}

	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc.ID != "" {
			ids = append(ids, doc.ID)
		}
	}
	if err := e.store.IncrementCounter(ctx, ids); err != nil {
		e.log.Warn("Access counter update failed", "error", err)
	}

	e.log.Info("Search completed",
		"query", truncateRunes(query, 50),
		"total_results", len(docs),
		"tenant_id", tenantID,
	)
	return docs, nil
}

// ── Learn ──

// Learn embeds and stores one fact, then extracts relation triples into the
// entity graph. Graph failures are logged and never fail the ingest.
func (e *Engine) Learn(ctx context.Context, content, tenantID, userID, category string, metadata map[string]interface{}) (string, error) {
	if category == "" {
		category = "general"
	}
	docID := uuid.NewString()

	vector, err := e.embedder.Embed(ctx, content)
	if err != nil {
		return "", fmt.Errorf("embed content: %w", err)
	}

	docMetadata := map[string]interface{}{
		"tenant_id":        tenantID,
		"category":         category,
		"timestamp":        float64(time.Now().UnixNano()) / float64(time.Second),
		"access_count":     0,
		"importance_score": 1.0,
	}
	if userID != "" {
		docMetadata["user_id"] = userID
	}
	for k, v := range metadata {
		docMetadata[k] = v
	}

	if err := e.store.Upsert(ctx, docID, content, vector, docMetadata); err != nil {
		return "", fmt.Errorf("store fact: %w", err)
	}

	if e.graph != nil {
		e.learnRelations(ctx, content)
	}

	observability.Current().FactLearned(tenantID)
	e.log.Info("Fact learned", "doc_id", docID, "tenant_id", tenantID, "category", category)
	return docID, nil
}

func (e *Engine) learnRelations(ctx context.Context, content string) {
	relations, err := e.extractRelations(ctx, content)
	if err != nil {
		e.log.Warn("Relation extraction failed, skipping graph update", "error", err)
		return
	}
	if len(relations) == 0 {
		return
	}

	seen := map[string]bool{}
	var entities []types.Entity
	for _, rel := range relations {
		for _, name := range []string{rel.Source, rel.Target} {
			if !seen[name] {
				seen[name] = true
				entities = append(entities, types.Entity{Name: name, Type: "unknown"})
			}
		}
	}
	if err := e.graph.UpsertEntities(ctx, entities); err != nil {
		e.log.Warn("Entity upsert failed", "error", err)
		return
	}
	if err := e.graph.UpsertRelations(ctx, relations); err != nil {
		e.log.Warn("Relation upsert failed", "error", err)
		return
	}
	e.log.Info("Relations extracted", "count", len(relations))
}

// ── Propose ──

const noContextFallback = "(関連知識なし — 一般的な分析に基づいて提案してください)"

const proposeClosing = "上記に基づいて、JSON形式で攻撃的かつ具体的な提案を生成してください。"

// Propose builds a retrieval query from the user data, gathers knowledge
// base context, and asks the domain-prompted model for a proposal. The
// proposal is audited but returned regardless of the audit verdict.
func (e *Engine) Propose(ctx context.Context, userData map[string]interface{}, tenantID, domain string, accountHistory map[string]interface{}) (ProposeResult, error) {
	query := buildQuery(userData)

	contextDocs, err := e.Search(ctx, query, tenantID, "")
	if err != nil {
		return ProposeResult{}, fmt.Errorf("context search: %w", err)
	}

	contextParts := make([]string, 0, 10)
	for i, doc := range contextDocs {
		if i == 10 {
			break
		}
		contextParts = append(contextParts, truncateRunes(doc.Content, 300))
	}
	contextText := truncateRunes(strings.Join(contextParts, "\n"), e.opts.ContextMaxChars)
	if strings.TrimSpace(contextText) == "" {
		contextText = noContextFallback
	}

	if accountHistory == nil {
		accountHistory = map[string]interface{}{}
	}
	userPrompt := fmt.Sprintf(
		"## ナレッジベースからの関連知識\n    %s\n\n## ユーザーデータ\n%s\n\n## アカウント履歴\n%s\n\n%s\n",
		contextText,
		truncateRunes(prettyJSON(userData), 2000),
		truncateRunes(prettyJSON(accountHistory), 1000),
		proposeClosing,
	)

	proposal, err := e.llm.ChatJSON(ctx, e.domains.Prompt(domain), userPrompt)
	if err != nil {
		return ProposeResult{}, fmt.Errorf("generate proposal: %w", err)
	}

	audit := e.domains.Audit(proposal, domain)
	proposalID := uuid.NewString()

	e.log.Info("Proposal generated",
		"proposal_id", proposalID,
		"tenant_id", tenantID,
		"domain", domain,
		"audit_valid", audit.IsValid,
	)
	return ProposeResult{
		ProposalID:      proposalID,
		Proposal:        proposal,
		Audit:           audit,
		ContextDocsUsed: len(contextDocs),
	}, nil
}

// buildQuery flattens the user data into "key: value" pairs. Keys are
// sorted so identical inputs always produce the same retrieval query.
func buildQuery(userData map[string]interface{}) string {
	keys := make([]string, 0, len(userData))
	for k := range userData {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, userData[k]))
	}
	return truncateRunes(strings.Join(parts, " "), 1000)
}

// prettyJSON renders without HTML escaping so Japanese text and symbols
// survive into the prompt unchanged.
func prettyJSON(v interface{}) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "{}"
	}
	return strings.TrimRight(buf.String(), "\n")
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
