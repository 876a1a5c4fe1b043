package repository

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

	"golang.org/x/oauth2"

	"github.com/stemsi/olpm-engine/internal/engine"
	"github.com/stemsi/olpm-engine/internal/model"
)

// maxErrorBody bounds how much of a failed response is kept for the error text.
const maxErrorBody = 512

// AssessmentRepository talks to the remote Assessment Repository over REST.
type AssessmentRepository struct {
	baseURL string
	client  *http.Client
}

// NewAssessmentRepository creates a client for baseURL. When token is not
// empty every request carries it as a bearer token.
func NewAssessmentRepository(baseURL, token string, timeout time.Duration) *AssessmentRepository {
	return &AssessmentRepository{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  newHTTPClient(token, timeout),
	}
}

// WithToken returns a client for the same base URL that authenticates with
// token instead.
func (r *AssessmentRepository) WithToken(token string) *AssessmentRepository {
	return &AssessmentRepository{
		baseURL: r.baseURL,
		client:  newHTTPClient(token, r.client.Timeout),
	}
}

func newHTTPClient(token string, timeout time.Duration) *http.Client {
	client := &http.Client{Timeout: timeout}
	if token != "" {
		client.Transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   http.DefaultTransport,
		}
	}
	return client
}

type fetchTestResponse struct {
	Test *model.TestDefinition `json:"test"`
}

// FetchTest retrieves the test published under link.
func (r *AssessmentRepository) FetchTest(ctx context.Context, link string) (*model.TestDefinition, error) {
	endpoint := fmt.Sprintf("%s/tests/%s", r.baseURL, url.PathEscape(link))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", engine.ErrNetwork, err)
	}
	req.Header.Set("Accept", "application/json")

	var body fetchTestResponse
	if err := r.do(req, &body); err != nil {
		return nil, err
	}
	if body.Test == nil {
		return nil, fmt.Errorf("%w: response has no test", engine.ErrInvalidTest)
	}
	return body.Test, nil
}

// SubmitTest posts the answers for testID and returns the scored result.
func (r *AssessmentRepository) SubmitTest(ctx context.Context, testID string, payload model.SubmissionPayload) (*model.SubmissionResult, error) {
	endpoint := fmt.Sprintf("%s/tests/%s/submit", r.baseURL, url.PathEscape(testID))

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", engine.ErrNetwork, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	var result model.SubmissionResult
	if err := r.do(req, &result); err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			// A vanished test at submit time is still a failed delivery.
			return nil, fmt.Errorf("%w: %v", engine.ErrNetwork, err)
		}
		return nil, err
	}
	return &result, nil
}

// do executes req and decodes a 2xx JSON body into dst. 404 maps to
// engine.ErrNotFound, every other failure to engine.ErrNetwork.
func (r *AssessmentRepository) do(req *http.Request, dst interface{}) error {
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", engine.ErrNetwork, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", engine.ErrNotFound, req.URL.Path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: %s %s: status %d: %s",
			engine.ErrNetwork, req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: decode %s: %v", engine.ErrNetwork, req.URL.Path, err)
	}
	return nil
}
