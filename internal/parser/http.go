package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPParser submits parse requests to an external parsing service over
// HTTP. The service acknowledges with 202 and reports the outcome later via
// the callback URL included in the request.
type HTTPParser struct {
	url        string
	httpClient *http.Client
}

func NewHTTPParser(url string, submitTimeoutSeconds int) *HTTPParser {
	if submitTimeoutSeconds <= 0 {
		submitTimeoutSeconds = 30
	}
	return &HTTPParser{
		url:        url,
		httpClient: &http.Client{Timeout: time.Duration(submitTimeoutSeconds) * time.Second},
	}
}

type submitRequest struct {
	JobID          string `json:"job_id"`
	DocumentID     string `json:"document_id"`
	SourcePath     string `json:"source_path"`
	OutputPath     string `json:"output_path"`
	MimeType       string `json:"mime_type"`
	CallbackURL    string `json:"callback_url"`
	CallbackSecret string `json:"callback_secret"`
}

func (p *HTTPParser) Submit(ctx context.Context, sub Submission) error {
	body, err := json.Marshal(submitRequest{
		JobID:          sub.JobID.String(),
		DocumentID:     sub.DocumentID.String(),
		SourcePath:     sub.RawPath,
		OutputPath:     sub.ParsedPath,
		MimeType:       sub.MimeType,
		CallbackURL:    sub.CallbackURL,
		CallbackSecret: sub.CallbackSecret,
	})
	if err != nil {
		return fmt.Errorf("marshal submit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/v1/parse", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("submit parse: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("parse service rejected submission (%d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}
