package kravsaksdk

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

// Client is a minimal kravsak HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Sak is a case registry entry.
type Sak struct {
	ID          string `json:"id"`
	Tittel      string `json:"tittel"`
	KontraktRef string `json:"kontrakt_ref,omitempty"`
	TENavn      string `json:"te_navn,omitempty"`
	BHNavn      string `json:"bh_navn,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// Outcome mirrors the API outcome shape.
type Outcome struct {
	Kategori string `json:"kategori,omitempty"`
	Metode   string `json:"metode,omitempty"`
	Beloep   int64  `json:"beloep,omitempty"`
	Dager    int    `json:"dager,omitempty"`
}

// TrackState mirrors the API track projection (partial).
type TrackState struct {
	Track            string   `json:"track"`
	Status           string   `json:"status"`
	Principal        *Outcome `json:"principalOutcome,omitempty"`
	Subsidiary       *Outcome `json:"subsidiaryOutcome,omitempty"`
	Triggere         []string `json:"triggere,omitempty"`
	Governs          string   `json:"governs"`
	RevisionCount    int      `json:"revisionCount"`
	ResponseRevision int      `json:"lastResponseRevisionRef"`
}

// SakState is the projected case state.
type SakState struct {
	SakID               string     `json:"caseId"`
	Grunnlag            TrackState `json:"grunnlag"`
	Vederlag            TrackState `json:"vederlag"`
	Frist               TrackState `json:"frist"`
	OverallStatus       string     `json:"overallStatus"`
	CanIssueChangeOrder bool       `json:"canIssueChangeOrder"`
	TotalClaimed        int64      `json:"totalClaimed"`
	TotalApproved       int64      `json:"totalApproved"`
	EventCount          int        `json:"eventCount"`
}

// Event is one log entry.
type Event struct {
	ID    string         `json:"id"`
	SakID string         `json:"caseId"`
	Seq   int            `json:"seq"`
	Time  string         `json:"time"`
	Actor string         `json:"actor"`
	Role  string         `json:"actorRole"`
	Track string         `json:"track,omitempty"`
	Type  string         `json:"type"`
	Data  map[string]any `json:"data"`
}

// Annotation is the revision bookkeeping for an event.
type Annotation struct {
	Seq             int  `json:"seq"`
	Revision        int  `json:"revision,omitempty"`
	AnswersRevision int  `json:"answersRevision"`
	IsResponse      bool `json:"isResponse"`
	IsUpdate        bool `json:"isUpdate"`
}

// AnnotatedEvent pairs an event with its annotation.
type AnnotatedEvent struct {
	Event      Event      `json:"event"`
	Annotation Annotation `json:"annotation"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateCase registers a new case.
func (c *Client) CreateCase(ctx context.Context, tittel string) (Sak, error) {
	var resp Sak
	err := c.do(ctx, http.MethodPost, "cases", map[string]any{"tittel": tittel}, &resp)
	return resp, err
}

// State fetches the projected case state.
func (c *Client) State(ctx context.Context, caseID string) (SakState, error) {
	var resp SakState
	err := c.do(ctx, http.MethodGet, "cases/"+url.PathEscape(caseID)+"/state", nil, &resp)
	return resp, err
}

// Events fetches the annotated event log.
func (c *Client) Events(ctx context.Context, caseID string) ([]AnnotatedEvent, error) {
	var resp struct {
		Items []AnnotatedEvent `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "cases/"+url.PathEscape(caseID)+"/events", nil, &resp)
	return resp.Items, err
}

// SubmitClaim creates or revises a claim on a track.
func (c *Client) SubmitClaim(ctx context.Context, caseID, track string, expectedVersion int, data map[string]any) (SakState, error) {
	var resp SakState
	err := c.do(ctx, http.MethodPost, "cases/"+url.PathEscape(caseID)+"/claims/"+url.PathEscape(track), map[string]any{
		"expectedVersion": expectedVersion,
		"data":            data,
	}, &resp)
	return resp, err
}

// WithdrawClaim withdraws the claim on a track.
func (c *Client) WithdrawClaim(ctx context.Context, caseID, track string, expectedVersion int, begrunnelse string) (SakState, error) {
	var resp SakState
	err := c.do(ctx, http.MethodPost, "cases/"+url.PathEscape(caseID)+"/claims/"+url.PathEscape(track)+"/withdraw", map[string]any{
		"expectedVersion": expectedVersion,
		"begrunnelse":     begrunnelse,
	}, &resp)
	return resp, err
}

// SubmitResponse creates or revises the owner response on a track.
func (c *Client) SubmitResponse(ctx context.Context, caseID, track string, expectedVersion int, data map[string]any) (SakState, error) {
	var resp SakState
	err := c.do(ctx, http.MethodPost, "cases/"+url.PathEscape(caseID)+"/responses/"+url.PathEscape(track), map[string]any{
		"expectedVersion": expectedVersion,
		"data":            data,
	}, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, p string, body, out any) error {
	base := strings.TrimSuffix(c.BaseURL, "/")
	u := base + "/" + p
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	} else if c.APIKey != "" {
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: c.Timeout}
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &APIError{StatusCode: res.StatusCode, Body: string(data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
