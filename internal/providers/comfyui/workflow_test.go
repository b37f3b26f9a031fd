package comfyui

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"gateway/internal/domain"
	"gateway/internal/storage"
)

func mustWorkflow(t *testing.T, doc string) Workflow {
	t.Helper()
	wf, err := ParseWorkflow([]byte(doc))
	if err != nil {
		t.Fatalf("ParseWorkflow returned error: %v", err)
	}
	return wf
}

func nodeInputs(wf Workflow, id string) map[string]any {
	return wf[id].(map[string]any)["inputs"].(map[string]any)
}

func TestValidateNodes(t *testing.T) {
	if err := mustWorkflow(t, imageWorkflowJSON).ValidateNodes(domain.KindImage); err != nil {
		t.Fatalf("image workflow should validate: %v", err)
	}
	err := mustWorkflow(t, noSamplerVideoJSON).ValidateNodes(domain.KindVideo)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
	if err := mustWorkflow(t, imageWorkflowJSON).ValidateNodes(domain.KindChat); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("chat should be rejected, got %v", err)
	}
}

func TestInjectDoesNotMutateTemplate(t *testing.T) {
	wf := mustWorkflow(t, imageWorkflowJSON)
	before := wf.Clone()

	out := wf.Inject(Params{Prompt: "new", NegativePrompt: "bad", Width: 640, Height: 480, BatchSize: 2, Steps: 12, CFGScale: 4.5, Seed: 7})

	if !reflect.DeepEqual(wf, before) {
		t.Fatalf("template was mutated")
	}
	if nodeInputs(out, "6")["text"] != "new" || nodeInputs(out, "7")["text"] != "bad" {
		t.Fatalf("prompt injection failed")
	}
	latent := nodeInputs(out, "5")
	if latent["width"] != 640 || latent["height"] != 480 || latent["batch_size"] != 2 {
		t.Fatalf("latent injection failed: %v", latent)
	}
	sampler := nodeInputs(out, "3")
	if sampler["steps"] != 12 || sampler["cfg"] != 4.5 || sampler["seed"] != int64(7) {
		t.Fatalf("sampler injection failed: %v", sampler)
	}
	if _, ok := nodeInputs(out, "9")["width"]; ok {
		t.Fatalf("inputs that were absent must not be added")
	}
}

func TestInjectKeepsTemplateValuesForZeroParams(t *testing.T) {
	out := mustWorkflow(t, imageWorkflowJSON).Inject(Params{Prompt: "p", Seed: 3})
	if nodeInputs(out, "7")["text"] != "old neg" {
		t.Fatalf("empty negative prompt should keep template text")
	}
	if nodeInputs(out, "5")["width"] != float64(256) {
		t.Fatalf("zero width should keep template value")
	}
}

func TestInjectVideoFramesAndFPS(t *testing.T) {
	wf := mustWorkflow(t, `{
	  "1": {"class_type": "EmptyHunyuanLatentVideo", "inputs": {"width": 1, "height": 1, "length": 1}},
	  "2": {"class_type": "RandomNoise", "inputs": {"noise_seed": 0}},
	  "3": {"class_type": "CreateVideo", "inputs": {"fps": 24}}
	}`)
	out := wf.Inject(Params{Frames: 33, FPS: 12, Seed: 5})
	if nodeInputs(out, "1")["length"] != 33 {
		t.Fatalf("frames not injected")
	}
	if nodeInputs(out, "2")["noise_seed"] != int64(5) {
		t.Fatalf("noise_seed not injected")
	}
	if nodeInputs(out, "3")["fps"] != 12 {
		t.Fatalf("fps not injected")
	}
}

func TestParseWorkflowRejectsEmpty(t *testing.T) {
	for _, doc := range []string{`{}`, `[1,2]`, `not json`} {
		if _, err := ParseWorkflow([]byte(doc)); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("ParseWorkflow(%q) = %v, want ErrValidation", doc, err)
		}
	}
}

func TestLibraryLifecycle(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}
	lib := NewLibrary(store)
	ctx := context.Background()

	if _, _, err := lib.Resolve(ctx, ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("empty library should fail validation, got %v", err)
	}

	wf := mustWorkflow(t, imageWorkflowJSON)
	for _, name := range []string{"zeta", "alpha"} {
		if err := lib.Save(ctx, name, wf); err != nil {
			t.Fatalf("Save(%s) returned error: %v", name, err)
		}
	}
	if err := lib.Save(ctx, "../escape", wf); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("bad name should fail validation, got %v", err)
	}

	names, err := lib.List(ctx)
	if err != nil || !reflect.DeepEqual(names, []string{"alpha", "zeta"}) {
		t.Fatalf("List = %v, %v", names, err)
	}

	name, loaded, err := lib.Resolve(ctx, "")
	if err != nil || name != "alpha" {
		t.Fatalf("Resolve = %q, %v", name, err)
	}
	if !reflect.DeepEqual(loaded.ClassTypes(), wf.ClassTypes()) {
		t.Fatalf("loaded workflow differs")
	}

	if err := lib.Delete(ctx, "alpha"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if err := lib.Delete(ctx, "alpha"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second Delete = %v, want ErrNotFound", err)
	}
	if _, err := lib.Load(ctx, "alpha"); !errors.Is(err, ErrWorkflowNotFound) {
		t.Fatalf("Load = %v, want ErrWorkflowNotFound", err)
	}
}
