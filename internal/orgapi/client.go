// Package orgapi fetches employee directory records used as optional
// context for the decision engine. Lookups degrade to nil on any failure;
// the pipeline never blocks on directory availability.
package orgapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client calls the employee directory API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates an org API client. An empty baseURL disables lookups.
func NewClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Enabled reports whether a directory endpoint is configured.
func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

// GetEmployeeDetails returns the directory record for one employee, or
// nil when the directory is unconfigured, unreachable, or does not know
// the employee. Failures are logged, never returned.
func (c *Client) GetEmployeeDetails(ctx context.Context, employeeID string) map[string]any {
	if !c.Enabled() || employeeID == "" {
		return nil
	}

	url := fmt.Sprintf("%s/api/employees/%s", c.baseURL, employeeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.logger.Warn("Failed to build org API request",
			zap.String("employee_id", employeeID), zap.Error(err))
		return nil
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("Org API request failed",
			zap.String("employee_id", employeeID), zap.Error(err))
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Org API returned non-OK status",
			zap.String("employee_id", employeeID),
			zap.Int("status", resp.StatusCode))
		return nil
	}

	var details map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		c.logger.Warn("Failed to decode org API response",
			zap.String("employee_id", employeeID), zap.Error(err))
		return nil
	}
	return details
}

// CollectEmployeeData looks up each employee id and returns the records
// that resolved. Missing employees are simply absent from the result.
func (c *Client) CollectEmployeeData(ctx context.Context, employeeIDs []string) map[string]any {
	if !c.Enabled() || len(employeeIDs) == 0 {
		return nil
	}
	out := make(map[string]any)
	for _, id := range employeeIDs {
		if details := c.GetEmployeeDetails(ctx, id); details != nil {
			out[id] = details
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
