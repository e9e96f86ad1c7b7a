package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/autoforge-backend/internal/observability"
	perrors "github.com/yungbote/autoforge-backend/internal/pkg/errors"
	"github.com/yungbote/autoforge-backend/internal/platform/logger"
	"github.com/yungbote/autoforge-backend/internal/types"
)

// Store is the pgvector-backed document store. Tenant isolation happens
// purely through metadata filtering; there is no physical sharding.
type Store struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStore(db *gorm.DB, log *logger.Logger) *Store {
	return &Store{db: db, log: log.With("store", "VectorStore")}
}

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", perrors.ErrStorageUnavailable, err)
}

// vectorLiteral renders a float32 slice in pgvector's input syntax.
func vectorLiteral(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// buildFilter renders a conjunctive metadata filter. Keys are sorted so the
// generated SQL is deterministic.
func buildFilter(filter map[string]string) (string, []interface{}) {
	if len(filter) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys)*2)
	for _, k := range keys {
		clauses = append(clauses, "metadata->>? = ?")
		args = append(args, k, filter[k])
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// uuidArrayLiteral renders ids in Postgres array input syntax for a
// ?::uuid[] bind.
func uuidArrayLiteral(ids []string) string {
	return "{" + strings.Join(ids, ",") + "}"
}

func (s *Store) Upsert(ctx context.Context, id, content string, vec []float32, metadata map[string]interface{}) error {
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	err = s.db.WithContext(ctx).Exec(`
		INSERT INTO documents (id, content, vector, metadata)
		VALUES (?::uuid, ?, ?::vector, ?::jsonb)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			vector = EXCLUDED.vector,
			metadata = EXCLUDED.metadata
	`, id, content, vectorLiteral(vec), string(metadataJSON)).Error
	return unavailable(err)
}

type searchRow struct {
	ID         string  `gorm:"column:id"`
	Content    string  `gorm:"column:content"`
	Metadata   string  `gorm:"column:metadata"`
	Similarity float64 `gorm:"column:similarity"`
}

func (s *Store) Search(ctx context.Context, vec []float32, topK int, filter map[string]string) ([]types.Document, error) {
	start := time.Now()
	vecStr := vectorLiteral(vec)
	whereSQL, whereArgs := buildFilter(filter)

	args := make([]interface{}, 0, len(whereArgs)+3)
	args = append(args, vecStr)
	args = append(args, whereArgs...)
	args = append(args, vecStr, topK)

	var rows []searchRow
	err := s.db.WithContext(ctx).Raw(fmt.Sprintf(`
		SELECT id::text AS id, content, metadata::text AS metadata,
		       1 - (vector <=> ?::vector) AS similarity
		FROM documents
		%s
		ORDER BY vector <=> ?::vector
		LIMIT ?
	`, whereSQL), args...).Scan(&rows).Error
	if err != nil {
		return nil, unavailable(err)
	}

	docs := make([]types.Document, 0, len(rows))
	for _, row := range rows {
		md := map[string]interface{}{}
		if uErr := json.Unmarshal([]byte(row.Metadata), &md); uErr != nil {
			s.log.Warn("Document metadata decode failed", "doc_id", row.ID, "error", uErr)
			md = map[string]interface{}{}
		}
		docs = append(docs, types.Document{
			ID:         row.ID,
			Content:    row.Content,
			Metadata:   md,
			Similarity: row.Similarity,
		})
	}

	observability.Current().ObserveVectorSearch(filter["tenant_id"], time.Since(start))
	return docs, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Exec(`DELETE FROM documents WHERE id = ?::uuid`, id).Error
	return unavailable(err)
}

// IncrementCounter bumps access_count and stamps last_accessed for each id
// in one atomic JSON-patch update.
func (s *Store) IncrementCounter(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Exec(`
		UPDATE documents
		SET metadata = jsonb_set(
			jsonb_set(
				metadata,
				'{access_count}',
				(COALESCE(metadata->>'access_count', '0')::int + 1)::text::jsonb
			),
			'{last_accessed}',
			to_jsonb(extract(epoch from now()))
		)
		WHERE id = ANY(?::uuid[])
	`, uuidArrayLiteral(ids)).Error
	return unavailable(err)
}

// CleanupOldFacts removes personal facts unused for the given number of days
// whose importance is below the threshold. Returns the deleted row count.
func (s *Store) CleanupOldFacts(ctx context.Context, days int, minImportance float64) (int64, error) {
	res := s.db.WithContext(ctx).Exec(`
		DELETE FROM documents
		WHERE metadata->>'user_id' IS NOT NULL
		  AND (metadata->>'last_accessed')::float
		      < extract(epoch from now()) - (? * 86400)
		  AND (metadata->>'importance_score')::float < ?
	`, days, minImportance)
	if res.Error != nil {
		return 0, unavailable(res.Error)
	}
	s.log.Info("Cleanup completed", "deleted", res.RowsAffected)
	return res.RowsAffected, nil
}

// ── Proposal archive ──

func (s *Store) StoreProposal(ctx context.Context, proposalID, tenantID, domain string, userData, proposal map[string]interface{}, audit types.AuditResult) error {
	userDataJSON, err := json.Marshal(userData)
	if err != nil {
		return fmt.Errorf("marshal user_data: %w", err)
	}
	proposalJSON, err := json.Marshal(proposal)
	if err != nil {
		return fmt.Errorf("marshal proposal: %w", err)
	}
	auditJSON, err := json.Marshal(audit)
	if err != nil {
		return fmt.Errorf("marshal audit_result: %w", err)
	}

	rec := types.Proposal{
		ID:           proposalID,
		TenantID:     tenantID,
		Domain:       domain,
		UserData:     datatypes.JSON(userDataJSON),
		ProposalBody: datatypes.JSON(proposalJSON),
		AuditResult:  datatypes.JSON(auditJSON),
		CreatedAt:    time.Now().UTC(),
	}
	return unavailable(s.db.WithContext(ctx).Create(&rec).Error)
}

// UpdateFeedback records the accept/reject decision. Returns false when no
// proposal with that id exists.
func (s *Store) UpdateFeedback(ctx context.Context, proposalID string, accepted bool, performanceAfter map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{
		"accepted":    accepted,
		"feedback_at": time.Now().UTC(),
	}
	if performanceAfter != nil {
		perfJSON, err := json.Marshal(performanceAfter)
		if err != nil {
			return false, fmt.Errorf("marshal performance_after: %w", err)
		}
		updates["performance_after"] = datatypes.JSON(perfJSON)
	}

	res := s.db.WithContext(ctx).Model(&types.Proposal{}).
		Where("id = ?", proposalID).
		Updates(updates)
	if res.Error != nil {
		return false, unavailable(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) GetStats(ctx context.Context, tenantID string) (types.StatsResponse, error) {
	stats := types.StatsResponse{TenantID: tenantID}

	err := s.db.WithContext(ctx).Raw(`
		SELECT COUNT(*) FROM documents WHERE metadata->>'tenant_id' = ?
	`, tenantID).Scan(&stats.TotalFacts).Error
	if err != nil {
		return stats, unavailable(err)
	}

	var counts struct {
		Total    int64 `gorm:"column:total"`
		Accepted int64 `gorm:"column:accepted"`
	}
	err = s.db.WithContext(ctx).Raw(`
		SELECT COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE accepted = TRUE) AS accepted
		FROM proposals
		WHERE tenant_id = ?
	`, tenantID).Scan(&counts).Error
	if err != nil {
		return stats, unavailable(err)
	}

	stats.TotalProposals = counts.Total
	stats.AcceptedProposals = counts.Accepted
	if counts.Total > 0 {
		stats.AcceptanceRate = float64(counts.Accepted) / float64(counts.Total)
	}
	return stats, nil
}

func (s *Store) GetProposalsHistory(ctx context.Context, tenantID string, limit, offset int) ([]types.ProposalHistoryItem, error) {
	var recs []types.Proposal
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&recs).Error
	if err != nil {
		return nil, unavailable(err)
	}

	items := make([]types.ProposalHistoryItem, 0, len(recs))
	for _, rec := range recs {
		item := types.ProposalHistoryItem{
			ID:          rec.ID,
			Domain:      rec.Domain,
			UserData:    s.decodeJSON(rec.ID, "user_data", rec.UserData),
			Proposal:    s.decodeJSON(rec.ID, "proposal", rec.ProposalBody),
			AuditResult: s.decodeJSON(rec.ID, "audit_result", rec.AuditResult),
			Accepted:    rec.Accepted,
		}
		if !rec.CreatedAt.IsZero() {
			item.CreatedAt = rec.CreatedAt.UTC().Format(time.RFC3339)
		}
		if rec.FeedbackAt != nil {
			item.FeedbackAt = rec.FeedbackAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}
	return items, nil
}

// decodeJSON tolerates malformed stored JSON: the failure is logged and an
// empty object returned so one bad row cannot break the history view.
func (s *Store) decodeJSON(id, field string, raw datatypes.JSON) map[string]interface{} {
	out := map[string]interface{}{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		s.log.Warn("Stored JSON decode failed", "proposal_id", id, "field", field, "error", err)
		return map[string]interface{}{}
	}
	return out
}
