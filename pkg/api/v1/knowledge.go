package v1

// KnowledgeLevel is the scope a knowledge store entry belongs to.
type KnowledgeLevel string

const (
	KnowledgeLevelProject KnowledgeLevel = "project"
	KnowledgeLevelCrew    KnowledgeLevel = "crew"
	KnowledgeLevelAgent   KnowledgeLevel = "agent"
)

// KnowledgeEntry is one retrieval store entry.
type KnowledgeEntry struct {
	ID        int64                  `json:"id"`
	Level     KnowledgeLevel         `json:"level"`
	Name      string                 `json:"name"`
	Content   string                 `json:"content"`
	ProjectID *int64                 `json:"project_id,omitempty"`
	CrewID    *int64                 `json:"crew_id,omitempty"`
	AgentID   *int64                 `json:"agent_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	VectorID  *string                `json:"vector_id,omitempty"`
	CreatedAt Timestamp              `json:"created_at"`
	UpdatedAt *Timestamp             `json:"updated_at,omitempty"`
}

// AddKnowledgeRequest is the body of POST /api/v1/rag/stores.
type AddKnowledgeRequest struct {
	Level     KnowledgeLevel         `json:"level"`
	Name      string                 `json:"name"`
	Content   string                 `json:"content"`
	ProjectID *int64                 `json:"project_id,omitempty"`
	CrewID    *int64                 `json:"crew_id,omitempty"`
	AgentID   *int64                 `json:"agent_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// KnowledgeSearchRequest is the body of POST /api/v1/rag/search.
type KnowledgeSearchRequest struct {
	Query     string         `json:"query"`
	Level     KnowledgeLevel `json:"level,omitempty"`
	ProjectID *int64         `json:"project_id,omitempty"`
	CrewID    *int64         `json:"crew_id,omitempty"`
	AgentID   *int64         `json:"agent_id,omitempty"`
	TopK      int            `json:"top_k,omitempty"`
}

// KnowledgeSearchResponse holds retrieved context keyed by level.
type KnowledgeSearchResponse struct {
	Results      map[string]string `json:"results"`
	Query        string            `json:"query"`
	TotalResults int               `json:"total_results"`
}

// KnowledgeStats summarizes the retrieval stores.
type KnowledgeStats struct {
	StoresByLevel         map[string]int `json:"stores_by_level"`
	TotalContentSizeBytes int64          `json:"total_content_size_bytes"`
	TotalContentSizeMB    float64        `json:"total_content_size_mb"`
}
