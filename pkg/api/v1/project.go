package v1

// Project is a top-level unit of work on the backend.
type Project struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   Timestamp `json:"created_at"`
	UpdatedAt   Timestamp `json:"updated_at,omitempty"`
}

// CreateProjectRequest is the body of POST /api/v1/projects.
type CreateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Crew is a team of agents working inside a project.
type Crew struct {
	ID          int64     `json:"id"`
	ProjectID   int64     `json:"project_id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	CrewType    *string   `json:"crew_type,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   Timestamp `json:"created_at"`
}

// CreateCrewRequest is the body of POST /api/v1/crews.
type CreateCrewRequest struct {
	ProjectID   int64  `json:"project_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CrewType    string `json:"crew_type,omitempty"`
}

// Health is the backend health payload.
type Health struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// DeleteResponse is returned by the backend's delete endpoints.
type DeleteResponse struct {
	Message string `json:"message"`
}
