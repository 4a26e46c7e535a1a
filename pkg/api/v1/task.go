package v1

// TaskStatus represents the lifecycle status of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task is a unit of work assigned to a crew and optionally an agent.
type Task struct {
	ID           int64                  `json:"id"`
	CrewID       int64                  `json:"crew_id"`
	AgentID      *int64                 `json:"agent_id,omitempty"`
	Name         string                 `json:"name"`
	Description  *string                `json:"description,omitempty"`
	Status       TaskStatus             `json:"status"`
	Priority     int                    `json:"priority"`
	InputData    map[string]interface{} `json:"input_data,omitempty"`
	Result       map[string]interface{} `json:"result,omitempty"`
	ErrorMessage *string                `json:"error_message,omitempty"`
	StartedAt    *Timestamp             `json:"started_at,omitempty"`
	CompletedAt  *Timestamp             `json:"completed_at,omitempty"`
	CreatedAt    Timestamp              `json:"created_at"`
	UpdatedAt    *Timestamp             `json:"updated_at,omitempty"`
}

// CreateTaskRequest is the body of POST /api/v1/tasks.
type CreateTaskRequest struct {
	CrewID      int64                  `json:"crew_id"`
	AgentID     *int64                 `json:"agent_id,omitempty"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Priority    int                    `json:"priority,omitempty"`
	InputData   map[string]interface{} `json:"input_data,omitempty"`
}

// UpdateTaskRequest is the body of PUT /api/v1/tasks/{id}.
type UpdateTaskRequest struct {
	Status       *TaskStatus            `json:"status,omitempty"`
	Result       map[string]interface{} `json:"result,omitempty"`
	ErrorMessage *string                `json:"error_message,omitempty"`
}

// TaskExecution is returned when a task execution is started.
type TaskExecution struct {
	TaskID  int64  `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}
