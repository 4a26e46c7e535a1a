package v1

// Agent is a single worker within a crew.
type Agent struct {
	ID        int64                  `json:"id"`
	CrewID    int64                  `json:"crew_id"`
	Name      string                 `json:"name"`
	Role      string                 `json:"role"`
	Goal      *string                `json:"goal,omitempty"`
	Backstory *string                `json:"backstory,omitempty"`
	Tools     []string               `json:"tools,omitempty"`
	LLMConfig map[string]interface{} `json:"llm_config,omitempty"`
	Status    string                 `json:"status"`
	CreatedAt Timestamp              `json:"created_at"`
}

// CreateAgentRequest is the body of POST /api/v1/agents.
type CreateAgentRequest struct {
	CrewID    int64                  `json:"crew_id"`
	Name      string                 `json:"name"`
	Role      string                 `json:"role"`
	Goal      string                 `json:"goal,omitempty"`
	Backstory string                 `json:"backstory,omitempty"`
	Tools     []string               `json:"tools,omitempty"`
	LLMConfig map[string]interface{} `json:"llm_config,omitempty"`
}
