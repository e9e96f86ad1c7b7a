package types

import (
	"time"

	"gorm.io/datatypes"
)

// Document is a stored fact returned from vector search.
type Document struct {
	ID         string                 `json:"id"`
	Content    string                 `json:"content"`
	Metadata   map[string]interface{} `json:"metadata"`
	Similarity float64                `json:"similarity"`
}

// Entity is a knowledge-graph node identified by name.
type Entity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Relation is a directed typed edge between two entities.
type Relation struct {
	Source   string `json:"source"`
	Relation string `json:"relation"`
	Target   string `json:"target"`
}

// AuditResult classifies a generated proposal. IsValid holds exactly when
// Errors is empty; warnings never invalidate.
type AuditResult struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Proposal is the archival record created for every served proposal.
type Proposal struct {
	ID               string         `gorm:"column:id;primaryKey" json:"id"`
	TenantID         string         `gorm:"column:tenant_id" json:"tenant_id"`
	Domain           string         `gorm:"column:domain" json:"domain"`
	UserData         datatypes.JSON `gorm:"column:user_data" json:"user_data"`
	ProposalBody     datatypes.JSON `gorm:"column:proposal" json:"proposal"`
	AuditResult      datatypes.JSON `gorm:"column:audit_result" json:"audit_result"`
	Accepted         *bool          `gorm:"column:accepted" json:"accepted"`
	PerformanceAfter datatypes.JSON `gorm:"column:performance_after" json:"performance_after"`
	CreatedAt        time.Time      `gorm:"column:created_at" json:"created_at"`
	FeedbackAt       *time.Time     `gorm:"column:feedback_at" json:"feedback_at"`
}

func (Proposal) TableName() string { return "proposals" }

// ── API request/response schemas ──

type LearnRequest struct {
	Content  string                 `json:"content" binding:"required"`
	Category string                 `json:"category"`
	Metadata map[string]interface{} `json:"metadata"`
}

type LearnResponse struct {
	DocID  string `json:"doc_id"`
	Status string `json:"status"`
}

type QueryRequest struct {
	Query    string  `json:"query" binding:"required"`
	TopK     int     `json:"top_k"`
	MinScore float64 `json:"min_score"`
}

type QueryResponse struct {
	Results []Document `json:"results"`
	Count   int        `json:"count"`
}

type ProposeRequest struct {
	UserData       map[string]interface{} `json:"user_data" binding:"required"`
	AccountHistory map[string]interface{} `json:"account_history"`
	Domain         string                 `json:"domain"`
}

type ProposeResponse struct {
	Success    bool                   `json:"success"`
	Proposal   map[string]interface{} `json:"proposal,omitempty"`
	ProposalID string                 `json:"proposal_id,omitempty"`
	Audit      *AuditResult           `json:"audit,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

type FeedbackRequest struct {
	ProposalID       string                 `json:"proposal_id" binding:"required"`
	Accepted         *bool                  `json:"accepted" binding:"required"`
	PerformanceAfter map[string]interface{} `json:"performance_after"`
}

type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	Version    string            `json:"version"`
}

type DomainInfo struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

type StatsResponse struct {
	TenantID          string  `json:"tenant_id"`
	TotalFacts        int64   `json:"total_facts"`
	TotalProposals    int64   `json:"total_proposals"`
	AcceptedProposals int64   `json:"accepted_proposals"`
	AcceptanceRate    float64 `json:"acceptance_rate"`
}

type ProposalHistoryItem struct {
	ID          string                 `json:"id"`
	Domain      string                 `json:"domain"`
	UserData    map[string]interface{} `json:"user_data"`
	Proposal    map[string]interface{} `json:"proposal"`
	AuditResult map[string]interface{} `json:"audit_result"`
	Accepted    *bool                  `json:"accepted"`
	CreatedAt   string                 `json:"created_at,omitempty"`
	FeedbackAt  string                 `json:"feedback_at,omitempty"`
}
