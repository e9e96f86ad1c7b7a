package db

import "fmt"

// Migrate creates the documents and proposals tables and their indexes.
// Every statement is idempotent so startup can run this unconditionally.
func (s *PostgresService) Migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			content TEXT NOT NULL,
			vector vector(1536) NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS documents_vector_idx
			ON documents
			USING hnsw (vector vector_cosine_ops)
			WITH (m = 16, ef_construction = 64)`,
		`CREATE INDEX IF NOT EXISTS documents_metadata_idx
			ON documents
			USING gin (metadata)`,
		`CREATE TABLE IF NOT EXISTS proposals (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			tenant_id TEXT NOT NULL DEFAULT 'default',
			domain TEXT NOT NULL DEFAULT 'ad_optimization',
			user_data JSONB NOT NULL DEFAULT '{}',
			proposal JSONB NOT NULL,
			audit_result JSONB NOT NULL DEFAULT '{}',
			accepted BOOLEAN DEFAULT NULL,
			performance_after JSONB DEFAULT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			feedback_at TIMESTAMP WITH TIME ZONE DEFAULT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS proposals_tenant_created_idx
			ON proposals (tenant_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS proposals_pending_idx
			ON proposals (accepted)
			WHERE accepted IS NULL`,
	}

	for _, stmt := range stmts {
		if err := s.db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	s.log.Info("Schema migration complete")
	return nil
}
