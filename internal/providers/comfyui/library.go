package comfyui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"gateway/internal/domain"
	"gateway/internal/storage"
)

// ErrWorkflowNotFound is returned when a named workflow does not exist.
var ErrWorkflowNotFound = fmt.Errorf("comfyui: workflow %w", domain.ErrNotFound)

var workflowName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// BlobStore is the subset of the file store the library needs.
type BlobStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	Read(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// Library manages workflow templates stored as <name>.json files.
type Library struct {
	store BlobStore
}

// NewLibrary wraps a blob store rooted at the workflows directory.
func NewLibrary(store BlobStore) *Library {
	return &Library{store: store}
}

// ValidateName reports whether name can be used as a workflow identifier.
func ValidateName(name string) error {
	if !workflowName.MatchString(name) || strings.HasSuffix(name, ".json") {
		return fmt.Errorf("%w: invalid workflow name %q", domain.ErrValidation, name)
	}
	return nil
}

// List returns the workflow names in lexical order.
func (l *Library) List(ctx context.Context) ([]string, error) {
	keys, err := l.store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("comfyui: list workflows: %w", err)
	}
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		if strings.Contains(key, "/") || path.Ext(key) != ".json" {
			continue
		}
		names = append(names, strings.TrimSuffix(key, ".json"))
	}
	return names, nil
}

// Load reads and parses a workflow by name.
func (l *Library) Load(ctx context.Context, name string) (Workflow, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	data, err := l.store.Read(ctx, name+".json")
	if errors.Is(err, storage.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("comfyui: read workflow %s: %w", name, err)
	}
	return ParseWorkflow(data)
}

// Save stores a workflow under name, replacing any previous version.
func (l *Library) Save(ctx context.Context, name string, wf Workflow) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if len(wf) == 0 {
		return fmt.Errorf("%w: workflow has no nodes", domain.ErrValidation)
	}
	data, err := json.MarshalIndent(wf, "", "  ")
	if err != nil {
		return fmt.Errorf("comfyui: encode workflow: %w", err)
	}
	if _, err := l.store.Write(ctx, name+".json", data); err != nil {
		return fmt.Errorf("comfyui: save workflow %s: %w", name, err)
	}
	return nil
}

// Delete removes a workflow by name.
func (l *Library) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	err := l.store.Delete(ctx, name+".json")
	if errors.Is(err, storage.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, name)
	}
	return err
}

// Resolve loads the named workflow, or the first one in the library when
// name is empty. Missing workflows are reported as validation errors.
func (l *Library) Resolve(ctx context.Context, name string) (string, Workflow, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		names, err := l.List(ctx)
		if err != nil {
			return "", nil, err
		}
		if len(names) == 0 {
			return "", nil, fmt.Errorf("%w: no workflows available", domain.ErrValidation)
		}
		name = names[0]
	}
	wf, err := l.Load(ctx, name)
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil, fmt.Errorf("%w: workflow %q not found", domain.ErrValidation, name)
	}
	if err != nil {
		return "", nil, err
	}
	return name, wf, nil
}
