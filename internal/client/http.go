package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/lendbus/internal/model"
	"github.com/alfredjeanlab/lendbus/internal/registry"
)

// HTTPClient implements LoansClient using the lendbus HTTP/JSON API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ LoansClient = (*HTTPClient)(nil)

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). token is sent as a bearer token on every
// request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Loans ---

func (c *HTTPClient) SubmitLoan(ctx context.Context, req *SubmitLoanRequest) (*model.Loan, error) {
	var loan model.Loan
	if err := c.doJSON(ctx, http.MethodPost, "/v1/loans", req, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *HTTPClient) GetLoan(ctx context.Context, id string) (*model.Loan, error) {
	var loan model.Loan
	if err := c.doJSON(ctx, http.MethodGet, "/v1/loans/"+url.PathEscape(id), nil, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *HTTPClient) ListLoans(ctx context.Context, req *ListLoansRequest) ([]*model.Loan, error) {
	q := url.Values{}
	if req != nil {
		if req.UserID != "" {
			q.Set("user", req.UserID)
		}
		if len(req.Status) > 0 {
			q.Set("status", strings.Join(req.Status, ","))
		}
		if req.Limit > 0 {
			q.Set("limit", strconv.Itoa(req.Limit))
		}
	}

	path := "/v1/loans"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Loans []*model.Loan `json:"loans"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Loans, nil
}

func (c *HTTPClient) TransitionLoan(ctx context.Context, id string, status model.LoanStatus, rejectionReason string) (*model.Loan, error) {
	body := map[string]string{"status": string(status)}
	if rejectionReason != "" {
		body["rejection_reason"] = rejectionReason
	}
	var loan model.Loan
	if err := c.doJSON(ctx, http.MethodPost, "/v1/loans/"+url.PathEscape(id)+"/transition", body, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *HTTPClient) Repay(ctx context.Context, id string, amount float64) (*model.Loan, error) {
	var loan model.Loan
	body := map[string]float64{"amount": amount}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/loans/"+url.PathEscape(id)+"/repayments", body, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *HTTPClient) RetryTokenization(ctx context.Context, id string) (*model.Loan, error) {
	var loan model.Loan
	if err := c.doJSON(ctx, http.MethodPost, "/v1/loans/"+url.PathEscape(id)+"/tokenize", nil, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

// --- KYC ---

func (c *HTTPClient) SubmitKYC(ctx context.Context) (*model.KYCRecord, error) {
	var rec model.KYCRecord
	if err := c.doJSON(ctx, http.MethodPost, "/v1/kyc", nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *HTTPClient) GetKYC(ctx context.Context, userID string) (*model.KYCRecord, error) {
	var rec model.KYCRecord
	if err := c.doJSON(ctx, http.MethodGet, "/v1/users/"+url.PathEscape(userID)+"/kyc", nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *HTTPClient) ReviewKYC(ctx context.Context, userID string, status model.KYCStatus, rejectionReason string) (*model.KYCRecord, error) {
	body := map[string]string{"status": string(status)}
	if rejectionReason != "" {
		body["rejection_reason"] = rejectionReason
	}
	var rec model.KYCRecord
	if err := c.doJSON(ctx, http.MethodPost, "/v1/users/"+url.PathEscape(userID)+"/kyc", body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// --- Operations ---

func (c *HTTPClient) Connections(ctx context.Context) ([]registry.Entry, error) {
	var resp struct {
		Connections []registry.Entry `json:"connections"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/connections", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Connections, nil
}

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		msg := string(respBody)
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			msg = errResp.Error
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return &model.AuthError{Reason: msg}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
