package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/fentz26/cortex/internal/memory"
	"github.com/fentz26/cortex/internal/models"
	"github.com/fentz26/cortex/internal/orchestrator"
	"github.com/fentz26/cortex/internal/scheduler"
	"github.com/fentz26/cortex/internal/think"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the cortex API.
type Client struct {
	baseURL    string
	ownerID    string
	httpClient *http.Client
	// sessionClient serves requests that run think sessions.
	sessionClient *http.Client
}

// NewClient creates a new API client with timeout.
func NewClient(baseURL string) *Client {
	hostname, _ := os.Hostname()
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		ownerID:       fmt.Sprintf("tui@%s", hostname),
		httpClient:    &http.Client{Timeout: DefaultClientTimeout},
		sessionClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

func (c *Client) get(path string, out any) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

func (c *Client) post(hc *http.Client, path string, body, out any) error {
	var r io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	resp, err := hc.Post(c.baseURL+path, "application/json", r)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		// Some endpoints return a partial result next to the error.
		if out != nil {
			_ = json.Unmarshal(body, out)
		}
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("API error: %s", apiErr.Error)
		}
		return fmt.Errorf("API error: %s", strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Health reports whether the daemon answers its health check.
func (c *Client) Health() error {
	return c.get("/health", nil)
}

// ListGoals fetches every goal.
func (c *Client) ListGoals() ([]models.Goal, error) {
	var goals []models.Goal
	return goals, c.get("/goals", &goals)
}

// ListTasks fetches scheduled tasks, optionally filtered by status.
func (c *Client) ListTasks(status string) ([]models.ScheduledTask, error) {
	path := "/tasks"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var tasks []models.ScheduledTask
	return tasks, c.get(path, &tasks)
}

// ListSessions fetches think sessions, newest first.
func (c *Client) ListSessions() ([]think.SessionInfo, error) {
	var sessions []think.SessionInfo
	return sessions, c.get("/sessions", &sessions)
}

// SessionSteps fetches the ledger of a session.
func (c *Client) SessionSteps(id string) ([]models.Step, error) {
	var steps []models.Step
	return steps, c.get("/sessions/"+url.PathEscape(id)+"/steps", &steps)
}

// Stats fetches scheduler statistics.
func (c *Client) Stats() (scheduler.Stats, error) {
	var stats scheduler.Stats
	return stats, c.get("/scheduler/stats", &stats)
}

// AddGoal creates a short-horizon goal.
func (c *Client) AddGoal(description string) (models.Goal, error) {
	var g models.Goal
	err := c.post(c.httpClient, "/goals", map[string]any{
		"horizon":     models.HorizonShort,
		"description": description,
	}, &g)
	return g, err
}

// Think runs a session on the daemon and waits for it to finish. A failed
// session is returned with an error.
func (c *Client) Think(query string) (think.SessionInfo, error) {
	var resp struct {
		Session think.SessionInfo `json:"session"`
	}
	err := c.post(c.sessionClient, "/think", map[string]string{"query": query}, &resp)
	return resp.Session, err
}

// RunGoals runs every ready goal.
func (c *Client) RunGoals() ([]orchestrator.Outcome, error) {
	var resp struct {
		Outcomes []orchestrator.Outcome `json:"outcomes"`
	}
	err := c.post(c.sessionClient, "/goals/run", nil, &resp)
	return resp.Outcomes, err
}

// Poll triggers one scheduler poll.
func (c *Client) Poll() (scheduler.Stats, error) {
	var stats scheduler.Stats
	return stats, c.post(c.httpClient, "/scheduler/poll", nil, &stats)
}

// Schedule creates a one-shot task for handler.
func (c *Client) Schedule(handler string, data any) (models.ScheduledTask, error) {
	var task models.ScheduledTask
	err := c.post(c.httpClient, "/tasks", map[string]any{
		"owner_id": c.ownerID,
		"handler":  handler,
		"data":     data,
	}, &task)
	return task, err
}

// Remember stores a memory.
func (c *Client) Remember(content string) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	err := c.post(c.httpClient, "/memory", map[string]any{
		"content": content,
		"meta":    map[string]string{"source": "tui"},
	}, &resp)
	return resp.ID, err
}

// Recall finds memories similar to query.
func (c *Client) Recall(query string) ([]memory.Match, error) {
	var matches []memory.Match
	return matches, c.get("/memory/search?q="+url.QueryEscape(query), &matches)
}
