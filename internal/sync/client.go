package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"time"

	apperrors "github.com/mensahk/fieldcite/internal/errors"
)

// TokenSource supplies the bearer token for API requests. An empty token
// means requests go out unauthenticated, which the server may accept for
// trusted local deployments.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource returning a fixed token.
type StaticToken string

// Token returns the static token value.
func (t StaticToken) Token() string { return string(t) }

// Response is the outcome of a delivered API request.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the response status is a 2xx success.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client delivers sync requests to the central API.
type Client struct {
	httpClient *http.Client
	tokens     TokenSource
}

// NewClient creates a Client with the given request timeout.
func NewClient(timeout time.Duration, tokens TokenSource) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:       10,
				IdleConnTimeout:    30 * time.Second,
				DisableCompression: false,
			},
		},
		tokens: tokens,
	}
}

// Send delivers a JSON request and returns the response regardless of
// status code. Only transport failures return an error.
func (c *Client) Send(ctx context.Context, method, url string, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	return c.execute(req)
}

// Upload delivers a photo blob as a multipart form post. The server
// expects the file part plus ticketId and type fields.
func (c *Client) Upload(ctx context.Context, url string, blob []byte, fileName, ticketID, photoType string) (*Response, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if fileName == "" {
		fileName = "photo.jpg"
	}
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(blob); err != nil {
		return nil, err
	}
	if err := writer.WriteField("ticketId", ticketID); err != nil {
		return nil, err
	}
	if err := writer.WriteField("type", photoType); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)

	return c.execute(req)
}

func (c *Client) authorize(req *http.Request) {
	if c.tokens == nil {
		return
	}
	if tok := c.tokens.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
}

func (c *Client) execute(req *http.Request) (*Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, apperrors.Wrap(apperrors.ErrSyncTimeout, "request timed out", err)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// isTimeout reports whether a transport error was a deadline expiry
// rather than a hard failure.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// retryableStatus reports whether a failed status code is worth another
// delivery attempt. Client errors are final except timeout and rate
// limiting.
func retryableStatus(code int) bool {
	if code >= 500 {
		return true
	}
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return true
	}
	return code < 400
}
