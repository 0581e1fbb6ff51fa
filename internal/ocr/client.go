// Package ocr sends prescription images to an external OCR service.
package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrNotConfigured is returned when no OCR endpoint is set.
var ErrNotConfigured = errors.New("ocr service not configured")

// Client posts an image as multipart form field "file" and reads back text.
// The service may answer with JSON {"text": "..."} or with a plain body.
type Client struct {
	http *resty.Client
	url  string
}

type textResponse struct {
	Text string `json:"text"`
}

// NewClient creates an OCR client. An empty url yields a client whose
// Recognize always returns ErrNotConfigured.
func NewClient(url string, timeout time.Duration, retries int) *Client {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second)
	return &Client{http: client, url: url}
}

// Enabled reports whether an endpoint is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.url != ""
}

// Recognize uploads the image and returns the recognized text.
func (c *Client) Recognize(ctx context.Context, filename string, image io.Reader) (string, error) {
	if !c.Enabled() {
		return "", ErrNotConfigured
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader("file", filename, image).
		Post(c.url)
	if err != nil {
		return "", fmt.Errorf("ocr request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("ocr service returned status %d", resp.StatusCode())
	}

	if strings.Contains(resp.Header().Get("Content-Type"), "json") {
		var out textResponse
		if err := json.Unmarshal(resp.Body(), &out); err != nil {
			return "", fmt.Errorf("decode ocr response: %w", err)
		}
		return out.Text, nil
	}
	return string(resp.Body()), nil
}
