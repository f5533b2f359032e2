package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"worklogd/internal/models"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// HTTPPeer talks to the sync backend over HTTPS with a bearer token.
type HTTPPeer struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPPeer creates a peer client. The token authenticates every request;
// timeout bounds each individual call.
func NewHTTPPeer(baseURL, token string, timeout time.Duration, logger *zap.Logger) *HTTPPeer {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := oauth2.NewClient(context.Background(), src)
	client.Timeout = timeout

	return &HTTPPeer{
		baseURL:    baseURL,
		httpClient: client,
		logger:     logger,
	}
}

type availabilityResponse struct {
	Status string `json:"status"`
}

// CheckAvailability probes the account endpoint and maps the response onto
// an availability state. Network failures report Unavailable rather than an
// error: an unreachable backend is an expected offline condition.
func (p *HTTPPeer) CheckAvailability(ctx context.Context) (Availability, error) {
	body, err := p.do(ctx, http.MethodGet, "/api/v1/account/status", nil)
	if err != nil {
		if IsUnavailable(err) {
			return AvailabilityUnavailable, nil
		}
		if IsRestricted(err) {
			return AvailabilityRestricted, nil
		}
		return AvailabilityUnknown, err
	}

	var resp availabilityResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return AvailabilityUnknown, fmt.Errorf("failed to parse availability response: %w", err)
	}

	switch resp.Status {
	case "available", "active":
		return AvailabilityAvailable, nil
	case "restricted":
		return AvailabilityRestricted, nil
	default:
		return AvailabilityUnavailable, nil
	}
}

// EnsureContainer creates the record container if it does not exist yet.
func (p *HTTPPeer) EnsureContainer(ctx context.Context) error {
	_, err := p.do(ctx, http.MethodPut, "/api/v1/containers/worklog", nil)
	return err
}

// SubscribeToChanges registers this device for change notifications.
func (p *HTTPPeer) SubscribeToChanges(ctx context.Context) error {
	_, err := p.do(ctx, http.MethodPost, "/api/v1/subscriptions", map[string]string{
		"container": "worklog",
	})
	return err
}

type pullResponse struct {
	Records    []models.ChangeRecord `json:"records"`
	NextCursor string                `json:"next_cursor"`
	HasMore    bool                  `json:"has_more"`
}

// PullChanges fetches the next page of changes after cursor.
func (p *HTTPPeer) PullChanges(ctx context.Context, cursor string, limit int) (PullPage, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	q.Set("limit", strconv.Itoa(limit))

	body, err := p.do(ctx, http.MethodGet, "/api/v1/changes?"+q.Encode(), nil)
	if err != nil {
		return PullPage{}, err
	}

	var resp pullResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return PullPage{}, fmt.Errorf("failed to parse changes response: %w", err)
	}
	return PullPage{
		Records:    resp.Records,
		NextCursor: resp.NextCursor,
		HasMore:    resp.HasMore,
	}, nil
}

type pushResponse struct {
	Version string `json:"version"`
}

// PushRecord uploads one change record. A 409 from the server is returned as
// a *ConflictError carrying the server's current copy.
func (p *HTTPPeer) PushRecord(ctx context.Context, rec models.ChangeRecord) (string, error) {
	body, err := p.do(ctx, http.MethodPut, "/api/v1/records/"+url.PathEscape(rec.ID), rec)
	if err != nil {
		return "", err
	}

	var resp pushResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse push response: %w", err)
	}
	return resp.Version, nil
}

type restoreResponse struct {
	Records   []models.ChangeRecord `json:"records"`
	NextToken string                `json:"next_token"`
	Total     int                   `json:"total"`
	HasMore   bool                  `json:"has_more"`
}

// PullAll paginates through every record for a full restore.
func (p *HTTPPeer) PullAll(ctx context.Context, pageToken string, limit int) (RestorePage, error) {
	q := url.Values{}
	if pageToken != "" {
		q.Set("page_token", pageToken)
	}
	q.Set("limit", strconv.Itoa(limit))

	body, err := p.do(ctx, http.MethodGet, "/api/v1/records?"+q.Encode(), nil)
	if err != nil {
		return RestorePage{}, err
	}

	var resp restoreResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return RestorePage{}, fmt.Errorf("failed to parse restore response: %w", err)
	}
	return RestorePage{
		Records:   resp.Records,
		NextToken: resp.NextToken,
		Total:     resp.Total,
		HasMore:   resp.HasMore,
	}, nil
}

// do executes one request and maps failure modes onto the package's typed
// errors.
func (p *HTTPPeer) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	startTime := time.Now()
	resp, err := p.httpClient.Do(req)
	duration := time.Since(startTime)

	if err != nil {
		p.logger.Warn("Remote request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
			zap.Duration("duration", duration),
		)
		return nil, &UnavailableError{Message: fmt.Sprintf("request failed: %v", err), Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		p.logger.Debug("Remote request completed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode),
			zap.Duration("duration", duration),
		)
		return body, nil
	}

	errMsg := fmt.Sprintf("backend returned status %d: %s", resp.StatusCode, string(body))

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		p.logger.Error("Remote access restricted",
			zap.Int("status_code", resp.StatusCode),
			zap.String("path", path),
		)
		return nil, &RestrictedError{Message: errMsg, StatusCode: resp.StatusCode}
	case http.StatusTooManyRequests, http.StatusInsufficientStorage:
		p.logger.Warn("Remote quota exceeded",
			zap.Int("status_code", resp.StatusCode),
		)
		return nil, &QuotaError{Message: errMsg, StatusCode: resp.StatusCode}
	case http.StatusConflict:
		var server models.ChangeRecord
		if err := json.Unmarshal(body, &server); err != nil {
			return nil, &BackendError{
				Message:    fmt.Sprintf("conflict response without server record: %v", err),
				StatusCode: resp.StatusCode,
			}
		}
		return nil, &ConflictError{Message: "record diverged remotely", Server: server}
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return nil, &UnavailableError{Message: errMsg}
	default:
		p.logger.Error("Backend error",
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(body)),
		)
		return nil, &BackendError{Message: errMsg, StatusCode: resp.StatusCode}
	}
}
