package untis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"untisched/internal/model"
)

// SearchSchools queries the public school directory for candidates
// matching query. This endpoint is separate from the tenant server and
// needs no session.
func (c *Client) SearchSchools(ctx context.Context, query string) ([]model.School, error) {
	if c.searchURL == "" {
		return nil, &FetchError{Method: "schoolquery", Err: fmt.Errorf("no search URL configured")}
	}

	q := url.Values{}
	q.Set("search", query)
	q.Set("client", c.clientName)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.searchURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, &FetchError{Method: "schoolquery", Err: err}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &FetchError{Method: "schoolquery", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Method: "schoolquery", Err: fmt.Errorf("HTTP %s", resp.Status)}
	}

	// Directory wire shape; note displayName/server rather than the
	// field names used elsewhere.
	var payload struct {
		Schools []struct {
			ID          int    `json:"id"`
			DisplayName string `json:"displayName"`
			City        string `json:"city"`
			Server      string `json:"server"`
		} `json:"schools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &FetchError{Method: "schoolquery", Err: err}
	}

	schools := make([]model.School, 0, len(payload.Schools))
	for _, s := range payload.Schools {
		schools = append(schools, model.School{
			ID:        s.ID,
			Name:      s.DisplayName,
			City:      s.City,
			ServerURL: s.Server,
		})
	}
	return schools, nil
}
