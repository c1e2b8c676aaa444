package consentlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Consentline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "v1",
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// Decision represents the API decision model (partial).
type Decision struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	Algorithm       string          `json:"algorithm"`
	Mode            string          `json:"mode"`
	Status          string          `json:"status"`
	Result          *string         `json:"result,omitempty"`
	ResultDetails   json.RawMessage `json:"result_details,omitempty"`
	CreatorID       string          `json:"creator_id"`
	StartTime       *time.Time      `json:"start_time,omitempty"`
	EndTime         *time.Time      `json:"end_time,omitempty"`
	CurrentStage    *string         `json:"current_stage,omitempty"`
	AmendmentAction *string         `json:"amendment_action,omitempty"`
	Version         int64           `json:"version"`
}

// CreateDecision is the body of a decision creation.
type CreateDecision struct {
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	Algorithm       string   `json:"algorithm"`
	Mode            string   `json:"mode,omitempty"`
	StageLayout     string   `json:"stage_layout,omitempty"`
	NuancedScale    int      `json:"nuanced_scale,omitempty"`
	WinnerCount     int      `json:"winner_count,omitempty"`
	BindingDeadline *bool    `json:"binding_deadline,omitempty"`
	Proposals       []string `json:"proposals,omitempty"`
}

type Participant struct {
	ID           string  `json:"id"`
	DecisionID   string  `json:"decision_id"`
	UserID       *string `json:"user_id,omitempty"`
	InviteeEmail *string `json:"invitee_email,omitempty"`
	HasVoted     bool    `json:"has_voted"`
}

type Proposal struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Position int    `json:"position"`
}

// Ballot is a recorded vote; Payload is family specific.
type Ballot struct {
	ID         string         `json:"id"`
	DecisionID string         `json:"decision_id"`
	Kind       string         `json:"kind"`
	Payload    map[string]any `json:"payload"`
	Withdrawn  bool           `json:"withdrawn"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// LogEntry represents one audit log row.
type LogEntry struct {
	ID        int64          `json:"id"`
	EventType string         `json:"event_type"`
	ActorID   *string        `json:"actor_id,omitempty"`
	OldValue  *string        `json:"old_value,omitempty"`
	NewValue  *string        `json:"new_value,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type ScanSummary struct {
	Processed     int  `json:"processed"`
	Transitions   int  `json:"transitions"`
	Notifications int  `json:"notifications"`
	Closures      int  `json:"closures"`
	Skipped       int  `json:"skipped"`
	Canceled      bool `json:"canceled"`
	Failures      []struct {
		DecisionID string `json:"decision_id"`
		Error      string `json:"error"`
	} `json:"failures"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) CreateDecision(ctx context.Context, in CreateDecision) (Decision, error) {
	var resp Decision
	err := c.do(ctx, http.MethodPost, "decisions", nil, in, &resp)
	return resp, err
}

func (c *Client) GetDecision(ctx context.Context, id string) (Decision, error) {
	var resp Decision
	err := c.do(ctx, http.MethodGet, decisionPath(id, ""), nil, nil, &resp)
	return resp, err
}

// ListDecisions filters by status and algorithm; empty strings match all.
func (c *Client) ListDecisions(ctx context.Context, status, algorithm string, limit int) ([]Decision, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if algorithm != "" {
		q.Set("algorithm", algorithm)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var resp struct {
		Items []Decision `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "decisions", q, nil, &resp)
	return resp.Items, err
}

// Invite adds a member by user id, or an outsider when the identity
// contains an @.
func (c *Client) Invite(ctx context.Context, decisionID, identity string) (Participant, error) {
	body := map[string]string{"user_id": identity}
	if strings.Contains(identity, "@") {
		body = map[string]string{"invitee_email": identity}
	}
	var resp Participant
	err := c.do(ctx, http.MethodPost, decisionPath(decisionID, "participants"), nil, body, &resp)
	return resp, err
}

func (c *Client) AddProposal(ctx context.Context, decisionID, title string) (Proposal, error) {
	var resp Proposal
	err := c.do(ctx, http.MethodPost, decisionPath(decisionID, "proposals"), nil, map[string]string{"title": title}, &resp)
	return resp, err
}

func (c *Client) Launch(ctx context.Context, decisionID string, end time.Time) (Decision, error) {
	var resp Decision
	body := map[string]string{"end_time": end.UTC().Format(time.RFC3339)}
	err := c.do(ctx, http.MethodPost, decisionPath(decisionID, "launch"), nil, body, &resp)
	return resp, err
}

func (c *Client) Close(ctx context.Context, decisionID string) (Decision, error) {
	var resp Decision
	err := c.do(ctx, http.MethodPost, decisionPath(decisionID, "close"), nil, nil, &resp)
	return resp, err
}

// CastBallot posts a ballot to the family endpoint (consensus, consent,
// majority, nuanced or advisory).
func (c *Client) CastBallot(ctx context.Context, decisionID, family string, payload any) (Ballot, error) {
	var resp Ballot
	err := c.do(ctx, http.MethodPost, decisionPath(decisionID, "ballots/"+family), nil, payload, &resp)
	return resp, err
}

// CastPublicBallot votes on an anonymous decision. dedupKey identifies the
// voter across changes of mind.
func (c *Client) CastPublicBallot(ctx context.Context, decisionID, family, dedupKey string, payload any) (Ballot, error) {
	var resp Ballot
	endpoint := "public/" + decisionPath(decisionID, "ballots/"+family)
	err := c.doWith(ctx, http.MethodPost, endpoint, nil, payload, &resp, map[string]string{"X-Dedup-Key": dedupKey})
	return resp, err
}

func (c *Client) Log(ctx context.Context, decisionID string, limit int) ([]LogEntry, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var resp struct {
		Items []LogEntry `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, decisionPath(decisionID, "log"), q, nil, &resp)
	return resp.Items, err
}

// TriggerClosureScan runs one closure scan with the shared cron secret.
func (c *Client) TriggerClosureScan(ctx context.Context, cronSecret string) (ScanSummary, error) {
	var resp ScanSummary
	err := c.doWith(ctx, http.MethodPost, "cron/closure-scan", nil, nil, &resp, map[string]string{"X-Cron-Secret": cronSecret})
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body any, out any) error {
	return c.doWith(ctx, method, endpoint, query, body, out, nil)
}

func (c *Client) doWith(ctx context.Context, method, endpoint string, query url.Values, body any, out any, headers map[string]string) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decisionPath(id, suffix string) string {
	p := "decisions/" + url.PathEscape(id)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if c.BasePath != "" {
		base += "/" + strings.Trim(c.BasePath, "/")
	}
	return base
}
