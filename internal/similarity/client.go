// Package similarity is the HTTP client for the semantic vector service that
// scores word pairs and proposes words for card combinations.
package similarity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for the service at baseURL. The timeout bounds every
// request even when the caller's context has no deadline.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type similarityRequest struct {
	Word1 string `json:"word1"`
	Word2 string `json:"word2"`
}

type similarityResponse struct {
	Score *float64 `json:"score"`
}

type analyzeRequest struct {
	Positive []string `json:"positive"`
	Negative []string `json:"negative"`
}

type analyzeResponse struct {
	Words []string `json:"words"`
}

// StatusError is returned for a non-2xx answer.
type StatusError struct {
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("similarity %s: status %d: %s", e.Path, e.Status, e.Body)
}

// Similarity returns the cosine similarity of the two words, in [-1,1].
func (c *Client) Similarity(ctx context.Context, word1, word2 string) (float64, error) {
	var resp similarityResponse
	if err := c.post(ctx, "/similarity", similarityRequest{Word1: word1, Word2: word2}, &resp); err != nil {
		return 0, err
	}
	if resp.Score == nil {
		return 0, fmt.Errorf("similarity /similarity: response has no score")
	}
	return *resp.Score, nil
}

// Analyze returns candidate words ranked best first.
func (c *Client) Analyze(ctx context.Context, positive, negative []string) ([]string, error) {
	if positive == nil {
		positive = []string{}
	}
	if negative == nil {
		negative = []string{}
	}
	var resp analyzeResponse
	if err := c.post(ctx, "/analyze", analyzeRequest{Positive: positive, Negative: negative}, &resp); err != nil {
		return nil, err
	}
	return resp.Words, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("similarity %s: marshal: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("similarity %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("similarity %s: %w", path, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return &StatusError{Path: path, Status: res.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("similarity %s: decode: %w", path, err)
	}
	return nil
}
