// Package client talks to a running describe server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/schollz/progressbar/v3"

	"github.com/Brownie44l1/describe-api/internal/cache"
	"github.com/Brownie44l1/describe-api/internal/model"
)

// StatusError is a non-2xx reply from the server.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Retryable reports whether the server may succeed on a later attempt.
// Invalid images never will.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	// MaxElapsed bounds the total retry time of one upload.
	MaxElapsed time.Duration
	logger     *slog.Logger
}

func New(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		MaxElapsed: time.Minute,
		logger:     logger,
	}
}

// Describe uploads one image and returns its ranked labels. Server errors are
// retried with exponential backoff; client errors are returned at once.
func (c *Client) Describe(ctx context.Context, filename string, data []byte) (model.RankedResult, error) {
	var result model.RankedResult

	operation := func() error {
		r, err := c.upload(ctx, filename, data)
		if err != nil {
			var statusErr *StatusError
			if errors.As(err, &statusErr) && !statusErr.Retryable() {
				return backoff.Permanent(err)
			}
			c.logger.Warn("describe failed, retrying", "file", filename, "error", err)
			return err
		}
		result = r
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = c.MaxElapsed

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("describe %s: %w", filename, err)
	}
	return result, nil
}

func (c *Client) upload(ctx context.Context, filename string, data []byte) (model.RankedResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filepath.Base(filename))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/description", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeStatusError(resp)
	}

	var result model.RankedResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result, nil
}

// Stats fetches the server's cache counters.
func (c *Client) Stats(ctx context.Context) (cache.Stats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/cache-stats", nil)
	if err != nil {
		return cache.Stats{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return cache.Stats{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return cache.Stats{}, decodeStatusError(resp)
	}
	var stats cache.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return cache.Stats{}, fmt.Errorf("failed to decode stats: %w", err)
	}
	return stats, nil
}

func decodeStatusError(resp *http.Response) error {
	statusErr := &StatusError{StatusCode: resp.StatusCode}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		statusErr.Code = body.Error
		statusErr.Message = body.Message
	} else {
		statusErr.Message = strings.TrimSpace(string(raw))
	}
	return statusErr
}

// Outcome is the result of describing one file.
type Outcome struct {
	Path   string
	Result model.RankedResult
	Err    error
}

// DescribeAll describes every path in order, drawing a progress bar on
// progress when more than one file is given. A nil progress disables it.
func (c *Client) DescribeAll(ctx context.Context, paths []string, progress io.Writer) []Outcome {
	var bar *progressbar.ProgressBar
	if progress != nil && len(paths) > 1 {
		bar = progressbar.NewOptions(len(paths),
			progressbar.OptionSetWriter(progress),
			progressbar.OptionSetDescription("describing"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "█",
				SaucerPadding: "░",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}

	outcomes := make([]Outcome, 0, len(paths))
	for _, path := range paths {
		if ctx.Err() != nil {
			outcomes = append(outcomes, Outcome{Path: path, Err: ctx.Err()})
			continue
		}
		out := Outcome{Path: path}
		data, err := os.ReadFile(path)
		if err != nil {
			out.Err = err
		} else {
			out.Result, out.Err = c.Describe(ctx, path, data)
		}
		outcomes = append(outcomes, out)
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	return outcomes
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true}

// ExpandPaths replaces directories with the image files directly inside them.
func ExpandPaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
				continue
			}
			paths = append(paths, filepath.Join(arg, e.Name()))
		}
	}
	return paths, nil
}
