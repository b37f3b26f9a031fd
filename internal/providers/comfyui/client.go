package comfyui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"gateway/internal/domain"
	"gateway/internal/infra"
	"gateway/internal/providers"
)

const abortTimeout = 5 * time.Second

// AssetWriter persists downloaded outputs.
type AssetWriter interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// Options configures the ComfyUI client.
type Options struct {
	BaseURL          string
	HTTPClient       *http.Client
	Library          *Library
	Outputs          AssetWriter
	PollInterval     time.Duration
	MaxPollInterval  time.Duration
	MaxRetries       int
	Timeout          time.Duration
	ExpectedDuration time.Duration
	Logger           *infra.Logger
}

// Client runs image and video jobs on a ComfyUI server: it submits an
// injected workflow, polls the history endpoint and downloads the outputs.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	library      *Library
	outputs      AssetWriter
	pollInterval time.Duration
	maxPoll      time.Duration
	maxRetries   int
	timeout      time.Duration
	expected     time.Duration
	logger       *infra.Logger
}

// SystemStats is the subset of /system_stats surfaced by the status endpoint.
type SystemStats struct {
	System struct {
		OS             string `json:"os"`
		PythonVersion  string `json:"python_version"`
		ComfyUIVersion string `json:"comfyui_version,omitempty"`
	} `json:"system"`
	Devices []struct {
		Name      string `json:"name"`
		Type      string `json:"type"`
		VRAMTotal int64  `json:"vram_total"`
		VRAMFree  int64  `json:"vram_free"`
	} `json:"devices"`
}

type promptRequest struct {
	Prompt   Workflow `json:"prompt"`
	ClientID string   `json:"client_id"`
}

type promptResponse struct {
	PromptID string `json:"prompt_id"`
	Number   int    `json:"number"`
}

type outputFile struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type nodeOutput struct {
	Images []outputFile `json:"images"`
	Videos []outputFile `json:"videos"`
	Gifs   []outputFile `json:"gifs"`
}

type historyEntry struct {
	Status struct {
		StatusStr string              `json:"status_str"`
		Completed bool                `json:"completed"`
		Messages  [][]json.RawMessage `json:"messages"`
	} `json:"status"`
	Outputs map[string]nodeOutput `json:"outputs"`
	Error   json.RawMessage       `json:"error,omitempty"`
}

type queueResponse struct {
	Running [][]any `json:"queue_running"`
	Pending [][]any `json:"queue_pending"`
}

type queueState int

const (
	queueUnknown queueState = iota
	queuePending
	queueRunning
)

// NewClient constructs a client with sane defaults. Library and Outputs are
// required.
func NewClient(opts Options) (*Client, error) {
	if opts.Library == nil {
		return nil, errors.New("comfyui: workflow library is required")
	}
	if opts.Outputs == nil {
		return nil, errors.New("comfyui: output store is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:8188"
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("comfyui: invalid base url %q: %w", baseURL, err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	c := &Client{
		baseURL:      baseURL,
		httpClient:   httpClient,
		library:      opts.Library,
		outputs:      opts.Outputs,
		pollInterval: opts.PollInterval,
		maxPoll:      opts.MaxPollInterval,
		maxRetries:   opts.MaxRetries,
		timeout:      opts.Timeout,
		expected:     opts.ExpectedDuration,
		logger:       infra.LoggerOrDiscard(opts.Logger),
	}
	if c.pollInterval <= 0 {
		c.pollInterval = time.Second
	}
	if c.maxPoll < c.pollInterval {
		c.maxPoll = max(5*time.Second, c.pollInterval)
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Minute
	}
	if c.expected <= 0 {
		c.expected = 30 * time.Second
	}
	return c, nil
}

// BaseURL returns the configured server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Available probes /system_stats. Failures wrap domain.ErrUnavailable.
func (c *Client) Available(ctx context.Context) (*SystemStats, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var stats SystemStats
	if _, err := c.doJSON(ctx, http.MethodGet, "/system_stats", nil, &stats); err != nil {
		return nil, fmt.Errorf("%w: comfyui: %v", domain.ErrUnavailable, err)
	}
	return &stats, nil
}

// Preflight resolves the workflow a payload refers to and checks its nodes,
// so jobs that could never run are rejected before they are queued.
func (c *Client) Preflight(ctx context.Context, kind domain.Kind, payload []byte) error {
	name, _, err := ParamsFromJob(domain.Job{Kind: kind, Payload: payload})
	if err != nil {
		return err
	}
	_, wf, err := c.library.Resolve(ctx, name)
	if err != nil {
		return err
	}
	return wf.ValidateNodes(kind)
}

// Generate runs one job end to end.
func (c *Client) Generate(ctx context.Context, job domain.Job, progress providers.ProgressFunc) (*domain.Result, error) {
	if progress == nil {
		progress = providers.NopProgress
	}
	name, params, err := ParamsFromJob(job)
	if err != nil {
		return nil, err
	}
	name, wf, err := c.library.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := wf.ValidateNodes(job.Kind); err != nil {
		return nil, err
	}
	progress(5, fmt.Sprintf("loaded workflow %s", name))

	if params.Seed < 0 {
		params.Seed = int64(rand.Uint32())
	}
	graph := wf.Inject(params)
	progress(10, "parameters injected")

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	promptID, err := c.submit(runCtx, graph)
	if err != nil {
		return nil, c.settle(ctx, runCtx, err, "")
	}
	c.logger.Info().
		Str("job_id", job.ID).
		Str("prompt_id", promptID).
		Str("workflow", name).
		Int64("seed", params.Seed).
		Msg("comfyui: prompt queued")
	progress(15, "queued in ComfyUI")

	entry, err := c.await(runCtx, promptID, progress)
	if err != nil {
		return nil, c.settle(ctx, runCtx, err, promptID)
	}

	progress(95, "downloading outputs")
	files, err := c.collect(runCtx, job.ID, promptID, entry)
	if err != nil {
		return nil, c.settle(ctx, runCtx, err, promptID)
	}
	return &domain.Result{Files: files}, nil
}

// settle maps context expiry onto the job error taxonomy and, when the
// prompt may still be live on the server, aborts it best effort.
func (c *Client) settle(parent, run context.Context, err error, promptID string) error {
	switch {
	case parent.Err() != nil:
		c.abort(parent, promptID)
		return fmt.Errorf("comfyui: prompt %s: %w", promptID, parent.Err())
	case run.Err() != nil:
		c.abort(parent, promptID)
		return fmt.Errorf("%w: comfyui: prompt %s exceeded %s", domain.ErrTimeout, promptID, c.timeout)
	default:
		return err
	}
}

func (c *Client) abort(parent context.Context, promptID string) {
	if promptID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), abortTimeout)
	defer cancel()

	body, _ := json.Marshal(map[string][]string{"delete": {promptID}})
	if _, err := c.doJSON(ctx, http.MethodPost, "/queue", body, nil); err != nil {
		c.logger.Warn().Err(err).Str("prompt_id", promptID).Msg("comfyui: delete from queue failed")
	}
	state, err := c.queueState(ctx, promptID)
	if err != nil || state != queueRunning {
		return
	}
	if _, err := c.doJSON(ctx, http.MethodPost, "/interrupt", []byte("{}"), nil); err != nil {
		c.logger.Warn().Err(err).Str("prompt_id", promptID).Msg("comfyui: interrupt failed")
		return
	}
	c.logger.Info().Str("prompt_id", promptID).Msg("comfyui: interrupted running prompt")
}

func (c *Client) submit(ctx context.Context, graph Workflow) (string, error) {
	body, err := json.Marshal(promptRequest{Prompt: graph, ClientID: uuid.NewString()})
	if err != nil {
		return "", fmt.Errorf("%w: comfyui: encode prompt: %v", domain.ErrInternal, err)
	}

	op := func() (string, error) {
		var out promptResponse
		status, err := c.doJSON(ctx, http.MethodPost, "/prompt", body, &out)
		switch {
		case err == nil && out.PromptID == "":
			return "", backoff.Permanent(fmt.Errorf("%w: comfyui: response missing prompt_id", domain.ErrInternal))
		case err == nil:
			return out.PromptID, nil
		case status >= http.StatusBadRequest && status < http.StatusInternalServerError:
			return "", backoff.Permanent(fmt.Errorf("%w: comfyui rejected prompt: %v", domain.ErrValidation, err))
		default:
			return "", err
		}
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn().Err(err).Dur("retry_in", wait).Msg("comfyui: submit failed; retrying")
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.maxRetries)), ctx)
	id, err := backoff.RetryNotifyWithData(op, b, notify)
	if err == nil {
		return id, nil
	}
	if ctx.Err() != nil || errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrInternal) {
		return "", err
	}
	return "", fmt.Errorf("%w: comfyui: submit prompt after %d retries: %v", domain.ErrUnavailable, c.maxRetries, err)
}

func (c *Client) await(ctx context.Context, promptID string, progress providers.ProgressFunc) (*historyEntry, error) {
	b := c.newBackOff()
	start := time.Now()
	failures := 0
	timer := time.NewTimer(b.NextBackOff())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		entry, found, err := c.history(ctx, promptID)
		if err == nil && !found {
			var state queueState
			state, err = c.queueState(ctx, promptID)
			if err == nil {
				progress(c.estimate(state, time.Since(start)))
			}
		}
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			failures++
			c.logger.Warn().Err(err).Str("prompt_id", promptID).Int("failures", failures).Msg("comfyui: poll failed")
			if failures > c.maxRetries {
				return nil, fmt.Errorf("%w: comfyui: poll prompt %s: %v", domain.ErrUnavailable, promptID, err)
			}
		default:
			failures = 0
		}

		if found {
			if msg, failed := entry.failure(); failed {
				return nil, fmt.Errorf("%w: comfyui: prompt %s failed: %s", domain.ErrInternal, promptID, msg)
			}
			if entry.done() {
				return entry, nil
			}
		}
		timer.Reset(b.NextBackOff())
	}
}

// estimate converts elapsed wall time into the [15, 90] band reserved for
// remote execution. ComfyUI's history API does not report step progress.
func (c *Client) estimate(state queueState, elapsed time.Duration) (int, string) {
	if state == queuePending {
		return 15, "waiting in ComfyUI queue"
	}
	pct := 15 + int(75*elapsed/c.expected)
	return min(pct, 90), fmt.Sprintf("generating (%ds elapsed)", int(elapsed.Seconds()))
}

func (c *Client) collect(ctx context.Context, jobID, promptID string, entry *historyEntry) ([]string, error) {
	nodeIDs := make([]string, 0, len(entry.Outputs))
	for id := range entry.Outputs {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	var files []string
	for _, id := range nodeIDs {
		out := entry.Outputs[id]
		for _, group := range [][]outputFile{out.Images, out.Videos, out.Gifs} {
			for _, f := range group {
				data, err := c.view(ctx, f)
				if err != nil {
					if ctx.Err() != nil {
						return nil, ctx.Err()
					}
					c.logger.Error().Err(err).Str("prompt_id", promptID).Str("filename", f.Filename).Msg("comfyui: download output failed")
					continue
				}
				key := fmt.Sprintf("%s/%s/%s_%s", outputFolder(f.Filename), jobID, uuid.NewString()[:8], path.Base(f.Filename))
				stored, err := c.outputs.Write(ctx, key, data)
				if err != nil {
					if ctx.Err() != nil {
						return nil, ctx.Err()
					}
					return nil, fmt.Errorf("%w: comfyui: store output: %v", domain.ErrInternal, err)
				}
				files = append(files, stored)
			}
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: comfyui: prompt %s produced no output", domain.ErrInternal, promptID)
	}
	return files, nil
}

func (c *Client) history(ctx context.Context, promptID string) (*historyEntry, bool, error) {
	var out map[string]historyEntry
	if _, err := c.doJSON(ctx, http.MethodGet, "/history/"+url.PathEscape(promptID), nil, &out); err != nil {
		return nil, false, err
	}
	entry, ok := out[promptID]
	if !ok {
		return nil, false, nil
	}
	return &entry, true, nil
}

func (c *Client) queueState(ctx context.Context, promptID string) (queueState, error) {
	var q queueResponse
	if _, err := c.doJSON(ctx, http.MethodGet, "/queue", nil, &q); err != nil {
		return queueUnknown, err
	}
	if queueContains(q.Running, promptID) {
		return queueRunning, nil
	}
	if queueContains(q.Pending, promptID) {
		return queuePending, nil
	}
	return queueUnknown, nil
}

func queueContains(items [][]any, promptID string) bool {
	for _, item := range items {
		if len(item) > 1 {
			if id, _ := item[1].(string); id == promptID {
				return true
			}
		}
	}
	return false
}

func (c *Client) view(ctx context.Context, f outputFile) ([]byte, error) {
	q := url.Values{}
	q.Set("filename", f.Filename)
	q.Set("subfolder", f.Subfolder)
	q.Set("type", firstNonEmpty(f.Type, "output"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create view request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("view %s: %w", f.Filename, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, decodeError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Filename, err)
	}
	return data, nil
}

// doJSON sends body (when non-nil) and decodes a JSON response into out
// (when non-nil). The status code is returned even on failure; 0 means the
// request never got a response.
func (c *Client) doJSON(ctx context.Context, method, endpoint string, body []byte, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return resp.StatusCode, decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return resp.StatusCode, nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var structured struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
			Details string `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &structured); err == nil && structured.Error.Message != "" {
		msg := structured.Error.Message
		if structured.Error.Details != "" {
			msg += ": " + structured.Error.Details
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}
	var plain struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &plain); err == nil && plain.Error != "" {
		return fmt.Errorf("status %d: %s", resp.StatusCode, plain.Error)
	}
	if text := strings.TrimSpace(string(data)); text != "" {
		return fmt.Errorf("status %d: %s", resp.StatusCode, text)
	}
	return fmt.Errorf("status %d", resp.StatusCode)
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.pollInterval
	b.MaxInterval = c.maxPoll
	b.Multiplier = 1.5
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (h *historyEntry) failure() (string, bool) {
	if h.Status.StatusStr != "error" && len(h.Error) == 0 {
		return "", false
	}
	for _, msg := range h.Status.Messages {
		if len(msg) != 2 {
			continue
		}
		var name string
		if err := json.Unmarshal(msg[0], &name); err != nil || name != "execution_error" {
			continue
		}
		var detail struct {
			NodeType         string `json:"node_type"`
			ExceptionMessage string `json:"exception_message"`
		}
		if err := json.Unmarshal(msg[1], &detail); err == nil && detail.ExceptionMessage != "" {
			return strings.TrimSpace(detail.NodeType + ": " + strings.TrimSpace(detail.ExceptionMessage)), true
		}
	}
	if len(h.Error) > 0 {
		return strings.Trim(string(h.Error), `"`), true
	}
	return "execution error", true
}

func (h *historyEntry) done() bool {
	return h.Status.Completed || h.Status.StatusStr == "success" || len(h.Outputs) > 0
}

func outputFolder(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".mp4", ".avi", ".mov", ".webm", ".gif":
		return "videos"
	default:
		return "images"
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var (
	_ providers.Generator   = (*Client)(nil)
	_ providers.Preflighter = (*Client)(nil)
)
