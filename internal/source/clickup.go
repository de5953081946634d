package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const clickupBaseURL = "https://api.clickup.com"

// ClickUp summarizes open tasks for the first team the token can see:
// counts by status and anything due in the next two days.
type ClickUp struct {
	token    string
	baseURL  string
	client   *http.Client
	disabled bool
	now      func() time.Time
}

func NewClickUp(token string, disabled bool) *ClickUp {
	return &ClickUp{
		token:    token,
		baseURL:  clickupBaseURL,
		client:   &http.Client{Timeout: 20 * time.Second},
		disabled: disabled,
		now:      time.Now,
	}
}

func (c *ClickUp) Name() string { return "clickup" }

func (c *ClickUp) Fetch(ctx context.Context) (map[string]any, error) {
	if c.disabled || c.token == "" {
		return nil, ErrSkipped
	}

	teamID, teamName, err := c.firstTeam(ctx)
	if err != nil {
		return nil, err
	}

	tasks, err := c.openTasks(ctx, teamID)
	if err != nil {
		return nil, err
	}

	byStatus := make(map[string]int)
	var dueSoon []map[string]any
	overdue := 0
	now := c.now()
	soonCutoff := now.Add(48 * time.Hour)
	for _, t := range tasks {
		byStatus[t.Status.Status]++
		due, ok := t.dueTime()
		if !ok {
			continue
		}
		switch {
		case due.Before(now):
			overdue++
		case due.Before(soonCutoff):
			dueSoon = append(dueSoon, map[string]any{
				"name":   t.Name,
				"status": t.Status.Status,
				"due":    due.Format("2006-01-02"),
			})
		}
	}

	return map[string]any{
		"team":       teamName,
		"open_tasks": len(tasks),
		"by_status":  byStatus,
		"due_soon":   dueSoon,
		"overdue":    overdue,
	}, nil
}

func (c *ClickUp) firstTeam(ctx context.Context) (id, name string, err error) {
	var result struct {
		Teams []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"teams"`
	}
	if err := c.get(ctx, c.baseURL+"/api/v2/team", &result); err != nil {
		return "", "", err
	}
	if len(result.Teams) == 0 {
		return "", "", newError(c.Name(), MalformedResponse, fmt.Errorf("token sees no teams"))
	}
	return result.Teams[0].ID, result.Teams[0].Name, nil
}

type clickupTask struct {
	Name   string `json:"name"`
	Status struct {
		Status string `json:"status"`
	} `json:"status"`
	DueDate *string `json:"due_date"` // milliseconds since epoch, as a string
}

func (t clickupTask) dueTime() (time.Time, bool) {
	if t.DueDate == nil || *t.DueDate == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(*t.DueDate, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func (c *ClickUp) openTasks(ctx context.Context, teamID string) ([]clickupTask, error) {
	reqURL := fmt.Sprintf("%s/api/v2/team/%s/task?archived=false&order_by=due_date&subtasks=false", c.baseURL, teamID)

	var result struct {
		Tasks []clickupTask `json:"tasks"`
	}
	if err := c.get(ctx, reqURL, &result); err != nil {
		return nil, err
	}
	return result.Tasks, nil
}

func (c *ClickUp) get(ctx context.Context, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", c.token)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return wrapErr(c.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return newError(c.Name(), statusKind(resp.StatusCode), fmt.Errorf("clickup returned status %d", resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return newError(c.Name(), MalformedResponse, fmt.Errorf("decode clickup response: %w", err))
	}
	return nil
}
