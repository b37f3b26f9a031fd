package comfyui

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"gateway/internal/domain"
	"gateway/internal/storage"
)

const imageWorkflowJSON = `{
  "3": {"class_type": "KSampler", "inputs": {"seed": 1, "steps": 10, "cfg": 5, "model": ["4", 0]}},
  "5": {"class_type": "EmptyLatentImage", "inputs": {"width": 256, "height": 256, "batch_size": 1}},
  "6": {"class_type": "CLIPTextEncode", "_meta": {"title": "Positive"}, "inputs": {"text": "old"}},
  "7": {"class_type": "CLIPTextEncode", "_meta": {"title": "Negative Prompt"}, "inputs": {"text": "old neg"}},
  "9": {"class_type": "SaveImage", "inputs": {"filename_prefix": "x"}}
}`

const noSamplerVideoJSON = `{
  "5": {"class_type": "EmptyHunyuanLatentVideo", "inputs": {"width": 256, "height": 256, "length": 9}},
  "6": {"class_type": "CLIPTextEncode", "inputs": {"text": "old"}}
}`

type fakeComfy struct {
	mu             sync.Mutex
	submitStatus   int
	historyStatus  int
	pendingPolls   int
	historyCalls   int
	submissions    []promptRequest
	deleted        []string
	interrupts     int
	failExecution  bool
	neverFinishes  bool
	promptID       string
	outputFilename string
}

func (f *fakeComfy) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/prompt", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var req promptRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.submissions = append(f.submissions, req)
		if f.submitStatus != 0 {
			w.WriteHeader(f.submitStatus)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_prompt","message":"Prompt outputs failed validation"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(promptResponse{PromptID: f.promptID, Number: 1})
	})
	mux.HandleFunc("/history/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.historyCalls++
		if f.historyStatus != 0 {
			w.WriteHeader(f.historyStatus)
			return
		}
		if f.neverFinishes || f.historyCalls <= f.pendingPolls {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		if f.failExecution {
			_, _ = w.Write([]byte(`{"` + f.promptID + `":{"status":{"status_str":"error","completed":false,"messages":[["execution_start",{}],["execution_error",{"node_type":"KSampler","exception_message":"CUDA out of memory"}]]},"outputs":{}}}`))
			return
		}
		_, _ = w.Write([]byte(`{"` + f.promptID + `":{"status":{"status_str":"success","completed":true,"messages":[]},"outputs":{"9":{"images":[{"filename":"` + f.outputFilename + `","subfolder":"","type":"output"}]}}}}`))
	})
	mux.HandleFunc("/queue", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Method == http.MethodPost {
			var body struct {
				Delete []string `json:"delete"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.deleted = append(f.deleted, body.Delete...)
			w.WriteHeader(http.StatusOK)
			return
		}
		_, _ = w.Write([]byte(`{"queue_running":[[0,"` + f.promptID + `",{},{},[]]],"queue_pending":[]}`))
	})
	mux.HandleFunc("/interrupt", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.interrupts++
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/view", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("filename") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("fake-png-bytes"))
	})
	mux.HandleFunc("/system_stats", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"system":{"os":"posix","python_version":"3.11"},"devices":[{"name":"cuda:0","type":"cuda","vram_total":100,"vram_free":50}]}`))
	})
	return mux
}

type testEnv struct {
	fake    *fakeComfy
	server  *httptest.Server
	client  *Client
	outputs *storage.FileStore
	library *Library
}

func newTestEnv(t *testing.T, fake *fakeComfy, mutate func(*Options)) *testEnv {
	t.Helper()
	if fake.promptID == "" {
		fake.promptID = "prompt-1"
	}
	if fake.outputFilename == "" {
		fake.outputFilename = "ComfyUI_00001_.png"
	}
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	outputs, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}
	wfStore, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}
	library := NewLibrary(wfStore)
	for name, doc := range map[string]string{"basic": imageWorkflowJSON, "nosampler": noSamplerVideoJSON} {
		wf, err := ParseWorkflow([]byte(doc))
		if err != nil {
			t.Fatalf("ParseWorkflow(%s) returned error: %v", name, err)
		}
		if err := library.Save(context.Background(), name, wf); err != nil {
			t.Fatalf("Save(%s) returned error: %v", name, err)
		}
	}

	opts := Options{
		BaseURL:          server.URL,
		Library:          library,
		Outputs:          outputs,
		PollInterval:     5 * time.Millisecond,
		MaxPollInterval:  10 * time.Millisecond,
		MaxRetries:       2,
		Timeout:          5 * time.Second,
		ExpectedDuration: 50 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	client, err := NewClient(opts)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return &testEnv{fake: fake, server: server, client: client, outputs: outputs, library: library}
}

func realJob(t *testing.T, kind domain.Kind, raw string) domain.Job {
	t.Helper()
	payload, err := domain.ValidatePayload(kind, domain.ModeReal, json.RawMessage(raw))
	if err != nil {
		t.Fatalf("ValidatePayload returned error: %v", err)
	}
	return domain.Job{ID: "job-1", Kind: kind, Mode: domain.ModeReal, Payload: payload}
}

func TestGenerateImageSuccess(t *testing.T) {
	env := newTestEnv(t, &fakeComfy{pendingPolls: 2}, nil)
	job := realJob(t, domain.KindImage, `{"prompt":"a red fox","negative_prompt":"blurry","width":768,"height":512,"steps":30,"seed":99}`)

	var mu sync.Mutex
	var ticks []int
	res, err := env.client.Generate(context.Background(), job, func(pct int, _ string) {
		mu.Lock()
		ticks = append(ticks, pct)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if len(res.Files) != 1 || !strings.HasPrefix(res.Files[0], "images/job-1/") || !strings.HasSuffix(res.Files[0], "_ComfyUI_00001_.png") {
		t.Fatalf("files = %v", res.Files)
	}
	data, err := env.outputs.Read(context.Background(), res.Files[0])
	if err != nil || string(data) != "fake-png-bytes" {
		t.Fatalf("stored output = %q, %v", data, err)
	}

	env.fake.mu.Lock()
	defer env.fake.mu.Unlock()
	if len(env.fake.submissions) != 1 {
		t.Fatalf("submissions = %d, want 1", len(env.fake.submissions))
	}
	sent := env.fake.submissions[0]
	if sent.ClientID == "" {
		t.Fatalf("client_id should be set")
	}
	inputs := func(id string) map[string]any {
		return sent.Prompt[id].(map[string]any)["inputs"].(map[string]any)
	}
	if inputs("6")["text"] != "a red fox" || inputs("7")["text"] != "blurry" {
		t.Fatalf("prompts not injected: %v / %v", inputs("6")["text"], inputs("7")["text"])
	}
	if inputs("5")["width"] != float64(768) || inputs("5")["height"] != float64(512) {
		t.Fatalf("latent size not injected: %v", inputs("5"))
	}
	if inputs("3")["seed"] != float64(99) || inputs("3")["steps"] != float64(30) {
		t.Fatalf("sampler not injected: %v", inputs("3"))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ticks) < 4 || ticks[0] != 5 || ticks[len(ticks)-1] != 95 {
		t.Fatalf("unexpected progress ticks: %v", ticks)
	}
	for _, pct := range ticks {
		if pct < 0 || pct > 99 {
			t.Fatalf("tick out of range: %v", ticks)
		}
	}
}

func TestGenerateMissingSamplerFailsBeforeSubmit(t *testing.T) {
	env := newTestEnv(t, &fakeComfy{}, nil)
	job := realJob(t, domain.KindVideo, `{"prompt":"waves","workflow":"nosampler"}`)

	if err := env.client.Preflight(context.Background(), job.Kind, job.Payload); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Preflight error = %v, want ErrValidation", err)
	}
	_, err := env.client.Generate(context.Background(), job, nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Generate error = %v, want ErrValidation", err)
	}
	if !strings.Contains(err.Error(), "sampler") {
		t.Fatalf("error should name the missing node: %v", err)
	}
	env.fake.mu.Lock()
	defer env.fake.mu.Unlock()
	if len(env.fake.submissions) != 0 {
		t.Fatalf("no submission expected, got %d", len(env.fake.submissions))
	}
}

func TestGenerateUnknownWorkflowIsValidation(t *testing.T) {
	env := newTestEnv(t, &fakeComfy{}, nil)
	job := realJob(t, domain.KindImage, `{"prompt":"x","workflow":"missing"}`)
	if _, err := env.client.Generate(context.Background(), job, nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestGenerateSubmitRejected(t *testing.T) {
	env := newTestEnv(t, &fakeComfy{submitStatus: http.StatusBadRequest}, nil)
	job := realJob(t, domain.KindImage, `{"prompt":"x","workflow":"basic"}`)

	_, err := env.client.Generate(context.Background(), job, nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
	if !strings.Contains(err.Error(), "Prompt outputs failed validation") {
		t.Fatalf("remote message missing: %v", err)
	}
	env.fake.mu.Lock()
	defer env.fake.mu.Unlock()
	if len(env.fake.submissions) != 1 {
		t.Fatalf("4xx must not be retried, submissions = %d", len(env.fake.submissions))
	}
}

func TestGenerateSubmitUnavailableAfterRetries(t *testing.T) {
	env := newTestEnv(t, &fakeComfy{submitStatus: http.StatusServiceUnavailable}, nil)
	job := realJob(t, domain.KindImage, `{"prompt":"x"}`)

	_, err := env.client.Generate(context.Background(), job, nil)
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
	env.fake.mu.Lock()
	defer env.fake.mu.Unlock()
	if len(env.fake.submissions) != 3 {
		t.Fatalf("submissions = %d, want 3", len(env.fake.submissions))
	}
}

func TestGeneratePollFailuresBecomeUnavailable(t *testing.T) {
	env := newTestEnv(t, &fakeComfy{historyStatus: http.StatusBadGateway}, nil)
	job := realJob(t, domain.KindImage, `{"prompt":"x"}`)

	_, err := env.client.Generate(context.Background(), job, nil)
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
	env.fake.mu.Lock()
	defer env.fake.mu.Unlock()
	if env.fake.historyCalls != 3 {
		t.Fatalf("history calls = %d, want 3", env.fake.historyCalls)
	}
}

func TestGenerateExecutionErrorIsInternal(t *testing.T) {
	env := newTestEnv(t, &fakeComfy{failExecution: true}, nil)
	job := realJob(t, domain.KindImage, `{"prompt":"x"}`)

	_, err := env.client.Generate(context.Background(), job, nil)
	if !errors.Is(err, domain.ErrInternal) {
		t.Fatalf("error = %v, want ErrInternal", err)
	}
	if !strings.Contains(err.Error(), "CUDA out of memory") {
		t.Fatalf("remote message missing: %v", err)
	}
}

func TestGenerateCancelAbortsRemotePrompt(t *testing.T) {
	env := newTestEnv(t, &fakeComfy{neverFinishes: true}, nil)
	job := realJob(t, domain.KindImage, `{"prompt":"x"}`)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := env.client.Generate(ctx, job, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if domain.KindOf(err) != domain.KindCancelled {
		t.Fatalf("KindOf = %s", domain.KindOf(err))
	}
	env.fake.mu.Lock()
	defer env.fake.mu.Unlock()
	if len(env.fake.deleted) != 1 || env.fake.deleted[0] != "prompt-1" {
		t.Fatalf("deleted = %v", env.fake.deleted)
	}
	if env.fake.interrupts != 1 {
		t.Fatalf("interrupts = %d, want 1", env.fake.interrupts)
	}
}

func TestGenerateWallClockBudget(t *testing.T) {
	env := newTestEnv(t, &fakeComfy{neverFinishes: true}, func(o *Options) {
		o.Timeout = 60 * time.Millisecond
	})
	job := realJob(t, domain.KindImage, `{"prompt":"x"}`)

	_, err := env.client.Generate(context.Background(), job, nil)
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	env.fake.mu.Lock()
	defer env.fake.mu.Unlock()
	if len(env.fake.deleted) != 1 {
		t.Fatalf("timeout should abort the prompt, deleted = %v", env.fake.deleted)
	}
}

func TestGenerateRejectsChat(t *testing.T) {
	env := newTestEnv(t, &fakeComfy{}, nil)
	payload, _ := domain.ValidatePayload(domain.KindChat, domain.ModeMock, json.RawMessage(`{"messages":[{"role":"user","content":"hi"}]}`))
	_, err := env.client.Generate(context.Background(), domain.Job{ID: "c", Kind: domain.KindChat, Payload: payload}, nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestAvailable(t *testing.T) {
	env := newTestEnv(t, &fakeComfy{}, nil)
	stats, err := env.client.Available(context.Background())
	if err != nil {
		t.Fatalf("Available returned error: %v", err)
	}
	if len(stats.Devices) != 1 || stats.Devices[0].Name != "cuda:0" {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	env.server.Close()
	if _, err := env.client.Available(context.Background()); !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
}
