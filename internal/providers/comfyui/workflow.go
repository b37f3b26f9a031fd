package comfyui

import (
	"encoding/json"
	"fmt"
	"strings"

	"gateway/internal/domain"
)

// Workflow is a ComfyUI API-format graph: node id to node object.
type Workflow map[string]any

var (
	textEncoderNodes = []string{"CLIPTextEncode"}
	samplerNodes     = []string{"KSampler", "KSamplerAdvanced", "SamplerCustom", "SamplerCustomAdvanced"}
	imageLatentNodes = []string{"EmptyLatentImage", "EmptySD3LatentImage"}
	videoLatentNodes = []string{"EmptyHunyuanLatentVideo", "EmptyLTXVLatentVideo", "EmptyMochiLatentVideo", "EmptyLatentImage"}
)

type requirement struct {
	role    string
	classes []string
}

var requiredNodes = map[domain.Kind][]requirement{
	domain.KindImage: {
		{role: "text encoder", classes: textEncoderNodes},
		{role: "sampler", classes: samplerNodes},
		{role: "latent image", classes: imageLatentNodes},
	},
	domain.KindVideo: {
		{role: "text encoder", classes: textEncoderNodes},
		{role: "sampler", classes: samplerNodes},
		{role: "video latent", classes: videoLatentNodes},
	},
}

// ParseWorkflow decodes an API-format workflow document. Malformed input
// wraps domain.ErrValidation.
func ParseWorkflow(data []byte) (Workflow, error) {
	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("%w: comfyui: decode workflow: %v", domain.ErrValidation, err)
	}
	if len(wf) == 0 {
		return nil, fmt.Errorf("%w: comfyui: workflow has no nodes", domain.ErrValidation)
	}
	return wf, nil
}

// Clone returns a deep copy of the workflow.
func (w Workflow) Clone() Workflow {
	out := make(Workflow, len(w))
	for id, node := range w {
		out[id] = cloneValue(node)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = cloneValue(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = cloneValue(val)
		}
		return s
	default:
		return v
	}
}

// ClassTypes returns the set of node classes present in the graph.
func (w Workflow) ClassTypes() map[string]struct{} {
	out := make(map[string]struct{}, len(w))
	for _, raw := range w {
		node, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if class, _ := node["class_type"].(string); class != "" {
			out[class] = struct{}{}
		}
	}
	return out
}

// ValidateNodes checks that the graph contains every node role the job kind
// needs. The error wraps domain.ErrValidation.
func (w Workflow) ValidateNodes(kind domain.Kind) error {
	reqs, ok := requiredNodes[kind]
	if !ok {
		return fmt.Errorf("%w: workflows do not support %s jobs", domain.ErrValidation, kind)
	}
	present := w.ClassTypes()
	var missing []string
	for _, req := range reqs {
		found := false
		for _, class := range req.classes {
			if _, ok := present[class]; ok {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, fmt.Sprintf("%s (%s)", req.role, strings.Join(req.classes, "|")))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: workflow is missing required nodes: %s", domain.ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

// Params are the generation parameters injected into a workflow. Zero values
// keep whatever the template already holds.
type Params struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	BatchSize      int
	Frames         int
	Steps          int
	CFGScale       float64
	Seed           int64
	FPS            int
}

var latentNodes = map[string]struct{}{
	"EmptyLatentImage":        {},
	"EmptySD3LatentImage":     {},
	"EmptyHunyuanLatentVideo": {},
	"EmptyLTXVLatentVideo":    {},
	"EmptyMochiLatentVideo":   {},
}

var seededNodes = map[string]struct{}{
	"KSampler":         {},
	"KSamplerAdvanced": {},
	"SamplerCustom":    {},
	"RandomNoise":      {},
}

// Inject returns a copy of the workflow with p applied. Text encoders whose
// title mentions "neg" receive the negative prompt; all others the prompt.
// Seed must already be resolved to a concrete value.
func (w Workflow) Inject(p Params) Workflow {
	out := w.Clone()
	for _, raw := range out {
		node, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		inputs, ok := node["inputs"].(map[string]any)
		if !ok {
			continue
		}
		class, _ := node["class_type"].(string)

		if class == "CLIPTextEncode" {
			if _, ok := inputs["text"]; ok {
				if isNegative(node) {
					setString(inputs, "text", p.NegativePrompt)
				} else {
					setString(inputs, "text", p.Prompt)
				}
			}
		}
		if _, ok := latentNodes[class]; ok {
			setInt(inputs, "width", p.Width)
			setInt(inputs, "height", p.Height)
			setInt(inputs, "batch_size", p.BatchSize)
			setInt(inputs, "length", p.Frames)
		}
		if _, ok := seededNodes[class]; ok {
			setInt(inputs, "steps", p.Steps)
			if _, ok := inputs["cfg"]; ok && p.CFGScale > 0 {
				inputs["cfg"] = p.CFGScale
			}
			if _, ok := inputs["seed"]; ok {
				inputs["seed"] = p.Seed
			}
			if _, ok := inputs["noise_seed"]; ok {
				inputs["noise_seed"] = p.Seed
			}
		}
		setInt(inputs, "fps", p.FPS)
	}
	return out
}

func isNegative(node map[string]any) bool {
	meta, _ := node["_meta"].(map[string]any)
	title, _ := meta["title"].(string)
	title = strings.ToLower(title)
	return strings.Contains(title, "neg")
}

func setString(inputs map[string]any, key, value string) {
	if _, ok := inputs[key]; ok && value != "" {
		inputs[key] = value
	}
}

func setInt(inputs map[string]any, key string, value int) {
	if _, ok := inputs[key]; ok && value > 0 {
		inputs[key] = value
	}
}

// ParamsFromJob maps a normalized job payload onto workflow parameters and
// returns the requested workflow name alongside them.
func ParamsFromJob(job domain.Job) (string, Params, error) {
	switch job.Kind {
	case domain.KindImage:
		p, err := domain.DecodeImage(job.Payload)
		if err != nil {
			return "", Params{}, err
		}
		return p.Workflow, Params{
			Prompt:         p.Prompt,
			NegativePrompt: p.NegativePrompt,
			Width:          p.Width,
			Height:         p.Height,
			BatchSize:      p.BatchSize,
			Steps:          p.Steps,
			CFGScale:       p.CFGScale,
			Seed:           seedValue(p.Seed),
		}, nil
	case domain.KindVideo:
		p, err := domain.DecodeVideo(job.Payload)
		if err != nil {
			return "", Params{}, err
		}
		return p.Workflow, Params{
			Prompt:         p.Prompt,
			NegativePrompt: p.NegativePrompt,
			Width:          p.Width,
			Height:         p.Height,
			Frames:         p.Frames,
			Steps:          p.Steps,
			CFGScale:       p.CFGScale,
			Seed:           seedValue(p.Seed),
			FPS:            p.FPS,
		}, nil
	default:
		return "", Params{}, fmt.Errorf("%w: real mode does not support %s jobs", domain.ErrValidation, job.Kind)
	}
}

func seedValue(seed *int64) int64 {
	if seed == nil {
		return domain.RandomSeed
	}
	return *seed
}
