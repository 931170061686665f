package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-viper/mapstructure/v2"

	"github.com/manytask/checker/pkg/pipeline"
)

// maxReportAttempts bounds the total number of POST attempts (one initial
// try plus up to two retries) the reporter makes against a retryable
// status code.
const maxReportAttempts = 3

var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// ReportScoreArgs is reportScore's declared argument shape.
type ReportScoreArgs struct {
	Origin        string   `mapstructure:"origin"`
	Patterns      []string `mapstructure:"patterns"`
	Username      string   `mapstructure:"username"`
	TaskName      string   `mapstructure:"taskName"`
	Score         float64  `mapstructure:"score"`
	ReportURL     string   `mapstructure:"reportUrl"`
	ReportToken   string   `mapstructure:"reportToken"`
	CheckDeadline bool     `mapstructure:"checkDeadline"`
	SubmitTime    string   `mapstructure:"submitTime"` // RFC3339; defaults to now
}

// reportScoreResponse is the server's JSON reply to a successful submission.
type reportScoreResponse struct {
	Score float64 `json:"score"`
}

// ReportScorePlugin POSTs a multipart form {token, task, username, score,
// checkDeadline, submitTime} plus any files matched by Patterns under
// Origin to ReportURL, retrying on a retryable status with exponential
// back-off.
type ReportScorePlugin struct {
	Client *http.Client
}

// NewReportScorePlugin returns a ReportScorePlugin using client, or
// http.DefaultClient when nil.
func NewReportScorePlugin(client *http.Client) *ReportScorePlugin {
	if client == nil {
		client = http.DefaultClient
	}

	return &ReportScorePlugin{Client: client}
}

// Schema implements pipeline.Plugin.
func (p *ReportScorePlugin) Schema() any { return ReportScoreArgs{} }

// Run implements pipeline.Plugin.
func (p *ReportScorePlugin) Run(ctx context.Context, _ *pipeline.Context, rawArgs map[string]any, verbose bool) (pipeline.PluginOutput, error) {
	var args ReportScoreArgs
	if err := mapstructure.Decode(rawArgs, &args); err != nil {
		return pipeline.PluginOutput{}, argError("reportScore", err)
	}

	submitTime := time.Now()

	if args.SubmitTime != "" {
		t, err := time.Parse(time.RFC3339, args.SubmitTime)
		if err != nil {
			return pipeline.PluginOutput{}, argError("reportScore", err)
		}

		submitTime = t
	}

	var attachments []string

	if args.Origin != "" {
		var err error

		attachments, err = matchAttachments(args.Origin, args.Patterns)
		if err != nil {
			return pipeline.PluginOutput{}, fmt.Errorf("%w: %w", ErrPluginExecutionFailed, err)
		}
	}

	body, contentType, err := buildReportForm(args, submitTime, attachments)
	if err != nil {
		return pipeline.PluginOutput{}, fmt.Errorf("%w: build request: %w", ErrPluginExecutionFailed, err)
	}

	resp, err := p.postWithRetry(ctx, args.ReportURL, contentType, body)
	if err != nil {
		return pipeline.PluginOutput{}, fmt.Errorf("%w: %w", ErrPluginExecutionFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return pipeline.PluginOutput{}, fmt.Errorf("%w: read response: %w", ErrPluginExecutionFailed, err)
	}

	if resp.StatusCode >= 400 {
		return pipeline.PluginOutput{}, fmt.Errorf("%w: server returned %d: %s", ErrPluginExecutionFailed, resp.StatusCode, string(respBody))
	}

	var decoded reportScoreResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return pipeline.PluginOutput{}, fmt.Errorf("%w: decode response: %w", ErrPluginExecutionFailed, err)
	}

	output := fmt.Sprintf("reported task %q for user %q: requested score %.2f, stored score %.2f",
		args.TaskName, args.Username, args.Score, decoded.Score)

	if verbose {
		output = fmt.Sprintf("%s\nattachments: %v", output, attachments)
	}

	return pipeline.PluginOutput{Stdout: output, Percentage: 1.0}, nil
}

// postWithRetry performs the POST, retrying with exponential back-off up to
// maxReportAttempts times when the response status is in retryableStatus.
// Non-retryable statuses (including any 4xx) are returned immediately for
// the caller to classify.
func (p *ReportScorePlugin) postWithRetry(ctx context.Context, url, contentType string, body *bytes.Buffer) (*http.Response, error) {
	bodyBytes := body.Bytes()

	var resp *http.Response

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(maxReportAttempts-1)), ctx)

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
		if err != nil {
			return backoff.Permanent(err)
		}

		req.Header.Set("Content-Type", contentType)

		r, err := p.Client.Do(req)
		if err != nil {
			return err
		}

		if retryableStatus[r.StatusCode] {
			r.Body.Close()

			return fmt.Errorf("retryable status %d", r.StatusCode)
		}

		resp = r

		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}

	return resp, nil
}

func buildReportForm(args ReportScoreArgs, submitTime time.Time, attachments []string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer

	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"token":         args.ReportToken,
		"task":          args.TaskName,
		"username":      args.Username,
		"score":         fmt.Sprintf("%.6f", args.Score),
		"checkDeadline": fmt.Sprintf("%t", args.CheckDeadline),
		"submitTime":    submitTime.Format(time.RFC3339),
	}

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}

	for _, path := range attachments {
		if err := attachFile(w, path); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return &buf, w.FormDataContentType(), nil
}

func attachFile(w *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	part, err := w.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return err
	}

	_, err = io.Copy(part, f)

	return err
}

func matchAttachments(origin string, patterns []string) ([]string, error) {
	var files []string

	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(origin, pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}

		for _, m := range matches {
			info, err := os.Stat(m)
			if err == nil && !info.IsDir() {
				files = append(files, m)
			}
		}
	}

	return files, nil
}
