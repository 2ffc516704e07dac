// Package api talks to the session archive: the server that keeps exported
// session files for after-action review.
package api

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// SessionMeta describes an uploaded session export.
type SessionMeta struct {
	SessionID string
	MissionID string
	Title     string
	Duration  float64 // simulated seconds
	LastTick  uint64
}

// Client uploads session exports to the archive server.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a client for baseURL.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Healthcheck reports whether the archive answers.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthcheck", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// Upload streams filePath as a multipart form together with meta.
func (c *Client) Upload(ctx context.Context, filePath string, meta SessionMeta) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	errCh := make(chan error, 1)
	go func() {
		err := writeForm(form, file, filepath.Base(filePath), c.apiKey, meta)
		if err == nil {
			err = form.Close()
		}
		pw.CloseWithError(err)
		errCh <- err
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/sessions", pr)
	if err != nil {
		_ = pr.CloseWithError(err)
		<-errCh
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		_ = pr.CloseWithError(err)
		<-errCh
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if writeErr := <-errCh; writeErr != nil {
		return writeErr
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("upload returned status %d", resp.StatusCode)
	}
	return nil
}

func writeForm(form *multipart.Writer, file io.Reader, name, secret string, meta SessionMeta) error {
	fields := [][2]string{
		{"secret", secret},
		{"filename", name},
		{"sessionId", meta.SessionID},
		{"missionId", meta.MissionID},
		{"title", meta.Title},
		{"duration", strconv.FormatFloat(meta.Duration, 'f', 1, 64)},
		{"lastTick", strconv.FormatUint(meta.LastTick, 10)},
	}
	for _, f := range fields {
		if err := form.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("failed to copy file: %w", err)
	}
	return nil
}
