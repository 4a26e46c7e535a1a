package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	v1 "github.com/iamthamanic/multiagentultra/pkg/api/v1"
)

const apiPrefix = "/api/v1"

// URL builds an absolute endpoint URL from the base URL, a path below
// /api/v1 and optional query parameters.
func (c *Client) URL(path string, query url.Values) string {
	target := c.cfg.BaseURL + apiPrefix + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return target
}

// idFilter returns a query with key=id, or nil when id is zero.
func idFilter(key string, id int64) url.Values {
	if id == 0 {
		return nil
	}
	return url.Values{key: []string{strconv.FormatInt(id, 10)}}
}

// Health fetches the backend health payload.
func (c *Client) Health(ctx context.Context) (*v1.Health, error) {
	var health v1.Health
	if err := c.DoJSON(ctx, http.MethodGet, c.URL("/health", nil), nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// CheckConnection reports whether the backend health endpoint answers.
func (c *Client) CheckConnection(ctx context.Context) bool {
	_, err := c.Health(ctx)
	return err == nil
}

// ListProjects returns all projects.
func (c *Client) ListProjects(ctx context.Context) ([]v1.Project, error) {
	var projects []v1.Project
	if err := c.DoJSON(ctx, http.MethodGet, c.URL("/projects/", nil), nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// GetProject returns a single project.
func (c *Client) GetProject(ctx context.Context, id int64) (*v1.Project, error) {
	var project v1.Project
	if err := c.DoJSON(ctx, http.MethodGet, c.URL(fmt.Sprintf("/projects/%d", id), nil), nil, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, req v1.CreateProjectRequest) (*v1.Project, error) {
	var project v1.Project
	if err := c.DoJSON(ctx, http.MethodPost, c.URL("/projects/", nil), req, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// DeleteProject deletes a project.
func (c *Client) DeleteProject(ctx context.Context, id int64) error {
	return c.DoJSON(ctx, http.MethodDelete, c.URL(fmt.Sprintf("/projects/%d", id), nil), nil, nil)
}

// ListCrews returns the crews of a project, or all crews when projectID is zero.
func (c *Client) ListCrews(ctx context.Context, projectID int64) ([]v1.Crew, error) {
	var crews []v1.Crew
	if err := c.DoJSON(ctx, http.MethodGet, c.URL("/crews/", idFilter("project_id", projectID)), nil, &crews); err != nil {
		return nil, err
	}
	return crews, nil
}

// CreateCrew creates a crew.
func (c *Client) CreateCrew(ctx context.Context, req v1.CreateCrewRequest) (*v1.Crew, error) {
	var crew v1.Crew
	if err := c.DoJSON(ctx, http.MethodPost, c.URL("/crews/", nil), req, &crew); err != nil {
		return nil, err
	}
	return &crew, nil
}

// DeleteCrew deletes a crew.
func (c *Client) DeleteCrew(ctx context.Context, id int64) error {
	return c.DoJSON(ctx, http.MethodDelete, c.URL(fmt.Sprintf("/crews/%d", id), nil), nil, nil)
}

// ListAgents returns the agents of a crew, or all agents when crewID is zero.
func (c *Client) ListAgents(ctx context.Context, crewID int64) ([]v1.Agent, error) {
	var agents []v1.Agent
	if err := c.DoJSON(ctx, http.MethodGet, c.URL("/agents/", idFilter("crew_id", crewID)), nil, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// CreateAgent creates an agent.
func (c *Client) CreateAgent(ctx context.Context, req v1.CreateAgentRequest) (*v1.Agent, error) {
	var agent v1.Agent
	if err := c.DoJSON(ctx, http.MethodPost, c.URL("/agents/", nil), req, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// DeleteAgent deletes an agent.
func (c *Client) DeleteAgent(ctx context.Context, id int64) error {
	return c.DoJSON(ctx, http.MethodDelete, c.URL(fmt.Sprintf("/agents/%d", id), nil), nil, nil)
}

// ListTasks returns the tasks of a crew, or all tasks when crewID is zero.
func (c *Client) ListTasks(ctx context.Context, crewID int64) ([]v1.Task, error) {
	var tasks []v1.Task
	if err := c.DoJSON(ctx, http.MethodGet, c.URL("/tasks/", idFilter("crew_id", crewID)), nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, req v1.CreateTaskRequest) (*v1.Task, error) {
	var task v1.Task
	if err := c.DoJSON(ctx, http.MethodPost, c.URL("/tasks/", nil), req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateTask updates a task's status, result or error message.
func (c *Client) UpdateTask(ctx context.Context, id int64, req v1.UpdateTaskRequest) (*v1.Task, error) {
	var task v1.Task
	if err := c.DoJSON(ctx, http.MethodPut, c.URL(fmt.Sprintf("/tasks/%d", id), nil), req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ExecuteTask starts execution of a pending task.
func (c *Client) ExecuteTask(ctx context.Context, id int64) (*v1.TaskExecution, error) {
	var exec v1.TaskExecution
	if err := c.DoJSON(ctx, http.MethodPost, c.URL(fmt.Sprintf("/tasks/%d/execute", id), nil), nil, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

// SearchKnowledge searches the retrieval stores.
func (c *Client) SearchKnowledge(ctx context.Context, req v1.KnowledgeSearchRequest) (*v1.KnowledgeSearchResponse, error) {
	var resp v1.KnowledgeSearchResponse
	if err := c.DoJSON(ctx, http.MethodPost, c.URL("/rag/search", nil), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AddKnowledge adds an entry to a retrieval store.
func (c *Client) AddKnowledge(ctx context.Context, req v1.AddKnowledgeRequest) (*v1.KnowledgeEntry, error) {
	var entry v1.KnowledgeEntry
	if err := c.DoJSON(ctx, http.MethodPost, c.URL("/rag/stores", nil), req, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// KnowledgeStats returns retrieval store statistics.
func (c *Client) KnowledgeStats(ctx context.Context) (*v1.KnowledgeStats, error) {
	var stats v1.KnowledgeStats
	if err := c.DoJSON(ctx, http.MethodGet, c.URL("/rag/stats", nil), nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}
