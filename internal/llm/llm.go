package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// maxTitles bounds the prompt for very large clusters.
	maxTitles    = 40
	maxBodyBytes = 1 << 20
)

// Client is a minimal Ollama-compatible LLM client.
type Client struct {
	url   string
	model string
	hc    *http.Client
	log   logrus.FieldLogger
}

// NewClient creates a new client. If httpClient is nil, a default with timeout is used.
func NewClient(url, model string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	return &Client{url: url, model: model, hc: httpClient, log: discard}
}

// SetLogger injects a logger for request tracing.
func (c *Client) SetLogger(l logrus.FieldLogger) {
	if l == nil {
		return
	}
	c.log = l
}

// Model is the configured model name.
func (c *Client) Model() string {
	return c.model
}

// SummarizeCluster returns a 2-3 sentence description of what a group of
// incident reports says happened.
func (c *Client) SummarizeCluster(ctx context.Context, titles []string) (string, error) {
	if len(titles) == 0 {
		return "", errors.New("llm: nothing to summarize")
	}
	if len(titles) > maxTitles {
		titles = titles[:maxTitles]
	}

	// stream=false gives one JSON object instead of newline-delimited chunks
	body := map[string]any{
		"model":      c.model,
		"prompt":     buildPrompt(titles),
		"max_tokens": 256,
		"stream":     false,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("llm marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("llm new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.hc.Do(req)
	c.log.WithFields(logrus.Fields{
		"url":     c.url,
		"model":   c.model,
		"titles":  len(titles),
		"latency": time.Since(start),
	}).WithError(err).Debug("llm request")
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("llm read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("llm request failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	text := strings.TrimSpace(extractText(respBody))
	if text == "" {
		return "", errors.New("llm returned an empty summary")
	}
	return text, nil
}

// extractText pulls the generated text out of the response shapes served by
// Ollama and OpenAI-compatible servers:
//
//	{"response": "..."}
//	{"text": "..."}
//	{"choices": [{"text": "..."}]} or {"choices": [{"message": {"content": "..."}}]}
//	{"results": [{"response": "..."}, ...]}
//
// A body that is not JSON is returned as is; a JSON body without any of
// these fields yields "".
func extractText(body []byte) string {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return string(body)
	}
	if s := stringField(m, "response"); s != "" {
		return s
	}
	if s := stringField(m, "text"); s != "" {
		return s
	}
	if arr, ok := m["choices"].([]any); ok && len(arr) > 0 {
		if first, ok := arr[0].(map[string]any); ok {
			if s := stringField(first, "text"); s != "" {
				return s
			}
			if msg, ok := first["message"].(map[string]any); ok {
				if s := stringField(msg, "content"); s != "" {
					return s
				}
			}
		}
	}
	if arr, ok := m["results"].([]any); ok {
		var sb strings.Builder
		for _, it := range arr {
			oo, ok := it.(map[string]any)
			if !ok {
				continue
			}
			if s := stringField(oo, "response"); s != "" {
				sb.WriteString(s)
			} else {
				sb.WriteString(stringField(oo, "text"))
			}
		}
		return sb.String()
	}
	return ""
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func buildPrompt(titles []string) string {
	var sb strings.Builder
	sb.WriteString("The following reports describe incidents at one location. ")
	sb.WriteString("Summarize what is happening there in 2-3 sentences. Do not speculate beyond the reports.\n\nReports:\n")
	for _, t := range titles {
		sb.WriteString("- ")
		sb.WriteString(strings.TrimSpace(t))
		sb.WriteString("\n")
	}
	sb.WriteString("\nSummary:")
	return sb.String()
}
