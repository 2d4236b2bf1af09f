package ticketgatesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Ticketgate HTTP API client, mainly for gate scanners.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Money is an amount in minor units.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Price is the forward pricing of a ticket.
type Price struct {
	Base           Money `json:"base"`
	Commission     Money `json:"commission"`
	ProcessingFee  Money `json:"processing_fee"`
	Total          Money `json:"total"`
	ArtistReceives Money `json:"artist_receives"`
}

// Holder is the person a ticket was sold to.
type Holder struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	ActorID string `json:"actor_id,omitempty"`
}

// Ticket represents the API ticket model.
type Ticket struct {
	ID          string     `json:"id"`
	EventID     string     `json:"event_id"`
	Tier        string     `json:"tier"`
	Holder      Holder     `json:"holder"`
	Code        string     `json:"code"`
	Status      string     `json:"status"`
	Price       Price      `json:"price"`
	Refund      *Money     `json:"refund,omitempty"`
	CheckedInAt *time.Time `json:"checked_in_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// QuotaDecision is the outcome of a quota consume or peek.
type QuotaDecision struct {
	Quota     string    `json:"quota"`
	Allowed   bool      `json:"allowed"`
	Remaining int64     `json:"remaining"`
	Limit     int64     `json:"limit"`
	ResetAt   time.Time `json:"reset_at,omitempty"`
}

// Error codes returned at the gate.
const (
	CodeAlreadyCheckedIn = "already_checked_in"
	CodeTicketNotValid   = "ticket_not_valid"
	CodeNotFound         = "not_found"
	CodeQuotaExceeded    = "quota_exceeded"
)

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// CheckIn admits the ticket with the given code. A second scan of the same
// code fails with CodeAlreadyCheckedIn.
func (c *Client) CheckIn(ctx context.Context, code string) (Ticket, error) {
	var resp Ticket
	err := c.do(ctx, http.MethodPost, "checkins", map[string]any{"code": code}, &resp)
	return resp, err
}

// LookupTicket resolves a code without admitting it.
func (c *Client) LookupTicket(ctx context.Context, code string) (Ticket, error) {
	var resp Ticket
	err := c.do(ctx, http.MethodGet, "tickets/by-code/"+url.PathEscape(code), nil, &resp)
	return resp, err
}

// GetTicket fetches a ticket by id.
func (c *Client) GetTicket(ctx context.Context, id string) (Ticket, error) {
	var resp Ticket
	err := c.do(ctx, http.MethodGet, "tickets/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// IssueTicket buys a ticket of tier for the holder.
func (c *Client) IssueTicket(ctx context.Context, eventID, tier string, holder Holder) (Ticket, error) {
	body := map[string]any{
		"tier":            tier,
		"holder_name":     holder.Name,
		"holder_email":    holder.Email,
		"holder_actor_id": holder.ActorID,
	}
	var resp Ticket
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("events/%s/tickets", url.PathEscape(eventID)), body, &resp)
	return resp, err
}

// ConsumeQuota draws amount from a named quota. A refused draw returns the
// decision together with an APIError carrying CodeQuotaExceeded.
func (c *Client) ConsumeQuota(ctx context.Context, name, resourceID string, amount int64) (QuotaDecision, error) {
	body := map[string]any{"resource_id": resourceID, "amount": amount}
	var resp QuotaDecision
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("quotas/%s/consume", url.PathEscape(name)), body, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == CodeQuotaExceeded {
		resp = QuotaDecision{Quota: name, Allowed: false}
		if v, ok := apiErr.Details["remaining"].(float64); ok {
			resp.Remaining = int64(v)
		}
		if v, ok := apiErr.Details["limit"].(float64); ok {
			resp.Limit = int64(v)
		}
	}
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
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
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
			apiErr.Details = envelope.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
