package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	// DefaultChatModel is recorded when a chat request omits the model.
	DefaultChatModel = "gpt-4o"
	// DefaultImageModel is recorded when an image request omits the model.
	DefaultImageModel = "dall-e-3"
	// DefaultVideoModel is recorded when a video request omits the model.
	DefaultVideoModel = "mock-video-v1"
	// DefaultImageSize applies to simulated image jobs without an explicit size.
	DefaultImageSize = "1024x1024"
	// DefaultVideoSize applies to simulated video jobs without an explicit size.
	DefaultVideoSize = "512x512"
	// DefaultRealDimension is the width and height used for workflow jobs.
	DefaultRealDimension = 512
	// DefaultSteps is the sampler step count used for workflow jobs.
	DefaultSteps = 20
	// DefaultCFGScale is the classifier-free guidance scale for workflow jobs.
	DefaultCFGScale = 7.0
	// RandomSeed asks the backend to pick a seed per submission.
	RandomSeed int64 = -1

	MaxImageCount   = 10
	MaxVideoCount   = 4
	MaxVideoSeconds = 60
	MaxFPS          = 60
	MinDimension    = 64
	MaxDimension    = 4096
	MaxSteps        = 150
	MaxCFGScale     = 30.0
	MaxBatchSize    = 16
	MaxFrames       = 1024
	MaxTemperature  = 2.0
)

var chatRoles = map[string]struct{}{
	"system":    {},
	"user":      {},
	"assistant": {},
	"tool":      {},
}

// ChatMessage is one turn of a chat conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// ChatPayload is the request body for chat jobs.
type ChatPayload struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	User        string        `json:"user,omitempty"`
}

// Normalize applies server defaults.
func (p *ChatPayload) Normalize() {
	if strings.TrimSpace(p.Model) == "" {
		p.Model = DefaultChatModel
	}
	if p.Temperature == nil {
		t := 0.7
		p.Temperature = &t
	}
}

// Validate ensures the chat request is well formed.
func (p ChatPayload) Validate() error {
	if len(p.Messages) == 0 {
		return fmt.Errorf("messages must not be empty")
	}
	for i, m := range p.Messages {
		if _, ok := chatRoles[m.Role]; !ok {
			return fmt.Errorf("messages[%d].role must be one of system, user, assistant, tool", i)
		}
	}
	if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > MaxTemperature) {
		return fmt.Errorf("temperature must be between 0 and %.1f", MaxTemperature)
	}
	if p.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must not be negative")
	}
	return nil
}

// LastUserMessage returns the content of the most recent user turn.
func (p ChatPayload) LastUserMessage() string {
	for i := len(p.Messages) - 1; i >= 0; i-- {
		if p.Messages[i].Role == "user" {
			return p.Messages[i].Content
		}
	}
	return ""
}

// ImagePayload is the request body for image jobs. The simulator reads the
// OpenAI-style fields; workflow jobs read the sampler fields.
type ImagePayload struct {
	Prompt         string  `json:"prompt"`
	Model          string  `json:"model,omitempty"`
	N              int     `json:"n,omitempty"`
	Size           string  `json:"size,omitempty"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Quality        string  `json:"quality,omitempty"`
	Style          string  `json:"style,omitempty"`
	Workflow       string  `json:"workflow,omitempty"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	Steps          int     `json:"steps,omitempty"`
	CFGScale       float64 `json:"cfg_scale,omitempty"`
	Seed           *int64  `json:"seed,omitempty"`
	BatchSize      int     `json:"batch_size,omitempty"`
}

// Normalize applies server defaults for the given mode.
func (p *ImagePayload) Normalize(mode Mode) {
	if strings.TrimSpace(p.Model) == "" {
		p.Model = DefaultImageModel
	}
	if p.N == 0 {
		p.N = 1
	}
	if p.Size == "" {
		p.Size = DefaultImageSize
	}
	if p.ResponseFormat == "" {
		p.ResponseFormat = "url"
	}
	if p.Quality == "" {
		p.Quality = "standard"
	}
	if mode != ModeReal {
		return
	}
	normalizeSampler(&p.Width, &p.Height, &p.Steps, &p.CFGScale, &p.Seed)
	if p.BatchSize == 0 {
		p.BatchSize = 1
	}
}

// Validate ensures the image request is well formed for the given mode.
func (p ImagePayload) Validate(mode Mode) error {
	if strings.TrimSpace(p.Prompt) == "" {
		return fmt.Errorf("prompt is required")
	}
	if p.N < 1 || p.N > MaxImageCount {
		return fmt.Errorf("n must be between 1 and %d", MaxImageCount)
	}
	if _, _, err := ParseSize(p.Size); err != nil {
		return err
	}
	if p.ResponseFormat != "url" && p.ResponseFormat != "b64_json" {
		return fmt.Errorf("response_format must be url or b64_json")
	}
	if mode != ModeReal {
		return nil
	}
	if err := validateSampler(p.Width, p.Height, p.Steps, p.CFGScale); err != nil {
		return err
	}
	if p.BatchSize < 1 || p.BatchSize > MaxBatchSize {
		return fmt.Errorf("batch_size must be between 1 and %d", MaxBatchSize)
	}
	return nil
}

// VideoPayload is the request body for video jobs.
type VideoPayload struct {
	Prompt         string  `json:"prompt"`
	Model          string  `json:"model,omitempty"`
	Duration       int     `json:"duration,omitempty"`
	FPS            int     `json:"fps,omitempty"`
	Size           string  `json:"size,omitempty"`
	N              int     `json:"n,omitempty"`
	Workflow       string  `json:"workflow,omitempty"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	Frames         int     `json:"frames,omitempty"`
	Steps          int     `json:"steps,omitempty"`
	CFGScale       float64 `json:"cfg_scale,omitempty"`
	Seed           *int64  `json:"seed,omitempty"`
}

// Normalize applies server defaults for the given mode.
func (p *VideoPayload) Normalize(mode Mode) {
	if strings.TrimSpace(p.Model) == "" {
		p.Model = DefaultVideoModel
	}
	if p.Duration == 0 {
		p.Duration = 4
	}
	if p.FPS == 0 {
		p.FPS = 8
	}
	if p.Size == "" {
		p.Size = DefaultVideoSize
	}
	if p.N == 0 {
		p.N = 1
	}
	if mode != ModeReal {
		return
	}
	normalizeSampler(&p.Width, &p.Height, &p.Steps, &p.CFGScale, &p.Seed)
	if p.Frames == 0 {
		p.Frames = 16
	}
}

// Validate ensures the video request is well formed for the given mode.
func (p VideoPayload) Validate(mode Mode) error {
	if strings.TrimSpace(p.Prompt) == "" {
		return fmt.Errorf("prompt is required")
	}
	if p.Duration < 1 || p.Duration > MaxVideoSeconds {
		return fmt.Errorf("duration must be between 1 and %d", MaxVideoSeconds)
	}
	if p.FPS < 1 || p.FPS > MaxFPS {
		return fmt.Errorf("fps must be between 1 and %d", MaxFPS)
	}
	if p.N < 1 || p.N > MaxVideoCount {
		return fmt.Errorf("n must be between 1 and %d", MaxVideoCount)
	}
	if _, _, err := ParseSize(p.Size); err != nil {
		return err
	}
	if mode != ModeReal {
		return nil
	}
	if err := validateSampler(p.Width, p.Height, p.Steps, p.CFGScale); err != nil {
		return err
	}
	if p.Frames < 1 || p.Frames > MaxFrames {
		return fmt.Errorf("frames must be between 1 and %d", MaxFrames)
	}
	return nil
}

func normalizeSampler(width, height, steps *int, cfg *float64, seed **int64) {
	if *width == 0 {
		*width = DefaultRealDimension
	}
	if *height == 0 {
		*height = DefaultRealDimension
	}
	if *steps == 0 {
		*steps = DefaultSteps
	}
	if *cfg == 0 {
		*cfg = DefaultCFGScale
	}
	if *seed == nil {
		s := RandomSeed
		*seed = &s
	}
}

func validateSampler(width, height, steps int, cfg float64) error {
	if width < MinDimension || width > MaxDimension {
		return fmt.Errorf("width must be between %d and %d", MinDimension, MaxDimension)
	}
	if height < MinDimension || height > MaxDimension {
		return fmt.Errorf("height must be between %d and %d", MinDimension, MaxDimension)
	}
	if steps < 1 || steps > MaxSteps {
		return fmt.Errorf("steps must be between 1 and %d", MaxSteps)
	}
	if cfg < 0 || cfg > MaxCFGScale {
		return fmt.Errorf("cfg_scale must be between 0 and %.0f", MaxCFGScale)
	}
	return nil
}

// ParseSize parses a "WIDTHxHEIGHT" size string.
func ParseSize(size string) (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(size)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("size must look like 1024x1024")
	}
	width, errW := strconv.Atoi(w)
	height, errH := strconv.Atoi(h)
	if errW != nil || errH != nil || width < 1 || height < 1 || width > MaxDimension || height > MaxDimension {
		return 0, 0, fmt.Errorf("size must look like 1024x1024 with sides up to %d", MaxDimension)
	}
	return width, height, nil
}

// ValidatePayload decodes raw for the given kind and mode, applies defaults,
// validates it and returns the normalized JSON. Failures wrap ErrValidation.
func ValidatePayload(kind Kind, mode Mode, raw json.RawMessage) (json.RawMessage, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown job kind %q", ErrValidation, kind)
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrValidation, mode)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: payload is required", ErrValidation)
	}

	var normalized any
	switch kind {
	case KindChat:
		var p ChatPayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		p.Normalize()
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		normalized = p
	case KindImage:
		var p ImagePayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		p.Normalize(mode)
		if err := p.Validate(mode); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		normalized = p
	case KindVideo:
		var p VideoPayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		p.Normalize(mode)
		if err := p.Validate(mode); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		normalized = p
	}

	out, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal payload: %v", ErrInternal, err)
	}
	return out, nil
}

// DecodeChat reads a normalized chat payload.
func DecodeChat(raw json.RawMessage) (ChatPayload, error) {
	var p ChatPayload
	err := decodePayload(raw, &p)
	return p, err
}

// DecodeImage reads a normalized image payload.
func DecodeImage(raw json.RawMessage) (ImagePayload, error) {
	var p ImagePayload
	err := decodePayload(raw, &p)
	return p, err
}

// DecodeVideo reads a normalized video payload.
func DecodeVideo(raw json.RawMessage) (VideoPayload, error) {
	var p VideoPayload
	err := decodePayload(raw, &p)
	return p, err
}

func decodePayload(raw json.RawMessage, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: invalid payload: %v", ErrValidation, err)
	}
	return nil
}
