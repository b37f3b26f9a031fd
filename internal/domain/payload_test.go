package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestValidatePayloadChatDefaults(t *testing.T) {
	out, err := ValidatePayload(KindChat, ModeMock, json.RawMessage(`{"messages":[{"role":"user","content":"hi"}]}`))
	if err != nil {
		t.Fatalf("ValidatePayload returned error: %v", err)
	}
	p, err := DecodeChat(out)
	if err != nil {
		t.Fatalf("DecodeChat returned error: %v", err)
	}
	if p.Model != DefaultChatModel {
		t.Fatalf("Model = %q, want %q", p.Model, DefaultChatModel)
	}
	if p.Temperature == nil || *p.Temperature != 0.7 {
		t.Fatalf("Temperature = %v, want 0.7", p.Temperature)
	}
	if p.LastUserMessage() != "hi" {
		t.Fatalf("LastUserMessage = %q", p.LastUserMessage())
	}
}

func TestValidatePayloadRejects(t *testing.T) {
	cases := []struct {
		name string
		kind Kind
		mode Mode
		raw  string
	}{
		{"unknown kind", Kind("audio"), ModeMock, `{}`},
		{"unknown mode", KindChat, Mode("hybrid"), `{}`},
		{"empty payload", KindChat, ModeMock, ``},
		{"malformed json", KindImage, ModeMock, `{"prompt":`},
		{"no messages", KindChat, ModeMock, `{"messages":[]}`},
		{"bad role", KindChat, ModeMock, `{"messages":[{"role":"robot","content":"x"}]}`},
		{"temperature", KindChat, ModeMock, `{"messages":[{"role":"user","content":"x"}],"temperature":3}`},
		{"image prompt", KindImage, ModeMock, `{"prompt":"  "}`},
		{"image n", KindImage, ModeMock, `{"prompt":"cat","n":11}`},
		{"image size", KindImage, ModeMock, `{"prompt":"cat","size":"big"}`},
		{"image format", KindImage, ModeMock, `{"prompt":"cat","response_format":"gif"}`},
		{"image steps", KindImage, ModeReal, `{"prompt":"cat","steps":500}`},
		{"image width", KindImage, ModeReal, `{"prompt":"cat","width":8}`},
		{"video duration", KindVideo, ModeMock, `{"prompt":"sea","duration":61}`},
		{"video fps", KindVideo, ModeMock, `{"prompt":"sea","fps":120}`},
		{"video frames", KindVideo, ModeReal, `{"prompt":"sea","frames":5000}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidatePayload(tc.kind, tc.mode, json.RawMessage(tc.raw))
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestValidatePayloadRealImageDefaults(t *testing.T) {
	out, err := ValidatePayload(KindImage, ModeReal, json.RawMessage(`{"prompt":"a lighthouse"}`))
	if err != nil {
		t.Fatalf("ValidatePayload returned error: %v", err)
	}
	p, err := DecodeImage(out)
	if err != nil {
		t.Fatalf("DecodeImage returned error: %v", err)
	}
	if p.Width != DefaultRealDimension || p.Height != DefaultRealDimension {
		t.Fatalf("dimensions = %dx%d", p.Width, p.Height)
	}
	if p.Steps != DefaultSteps || p.CFGScale != DefaultCFGScale || p.BatchSize != 1 {
		t.Fatalf("unexpected sampler defaults: %+v", p)
	}
	if p.Seed == nil || *p.Seed != RandomSeed {
		t.Fatalf("Seed = %v, want %d", p.Seed, RandomSeed)
	}
}

func TestValidatePayloadMockImageSkipsSamplerFields(t *testing.T) {
	out, err := ValidatePayload(KindImage, ModeMock, json.RawMessage(`{"prompt":"a lighthouse","n":3}`))
	if err != nil {
		t.Fatalf("ValidatePayload returned error: %v", err)
	}
	p, _ := DecodeImage(out)
	if p.N != 3 || p.Size != DefaultImageSize {
		t.Fatalf("unexpected payload: %+v", p)
	}
	if p.Steps != 0 || p.Seed != nil {
		t.Fatalf("sampler fields should stay unset in mock mode: %+v", p)
	}
}

func TestValidatePayloadVideoKeepsExplicitSeed(t *testing.T) {
	out, err := ValidatePayload(KindVideo, ModeReal, json.RawMessage(`{"prompt":"waves","seed":42,"frames":24,"fps":12}`))
	if err != nil {
		t.Fatalf("ValidatePayload returned error: %v", err)
	}
	p, _ := DecodeVideo(out)
	if p.Seed == nil || *p.Seed != 42 {
		t.Fatalf("Seed = %v, want 42", p.Seed)
	}
	if p.Frames != 24 || p.FPS != 12 || p.Duration != 4 {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestParseSize(t *testing.T) {
	w, h, err := ParseSize("768X512")
	if err != nil || w != 768 || h != 512 {
		t.Fatalf("ParseSize = %d, %d, %v", w, h, err)
	}
	if _, _, err := ParseSize("0x512"); err == nil {
		t.Fatalf("expected error for zero width")
	}
}
