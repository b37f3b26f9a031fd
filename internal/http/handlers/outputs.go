package handlers

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"gateway/internal/domain"
	"gateway/internal/infra"
	"gateway/internal/storage"
	"gateway/pkg/zip"
)

// storedKeys drops entries that are URLs rather than keys in the output store.
func storedKeys(files []string) []string {
	keys := make([]string, 0, len(files))
	for _, f := range files {
		if f == "" || strings.HasPrefix(f, "/") || strings.Contains(f, "://") {
			continue
		}
		keys = append(keys, f)
	}
	return keys
}

// JobOutputsZip godoc
// @Summary Download a succeeded job's stored files as a zip
// @Tags jobs
// @Produce application/zip
// @Param id path string true "job id"
// @Success 200 {file} file
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /v1/jobs/{id}/outputs.zip [get]
func (a *App) JobOutputsZip(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if job.Status != domain.StatusSucceeded {
		a.error(w, http.StatusConflict, "not_ready", fmt.Sprintf("job is %s", job.Status))
		return
	}
	var keys []string
	if job.Result != nil {
		keys = storedKeys(job.Result.Files)
	}
	if len(keys) == 0 || a.Outputs == nil {
		a.error(w, http.StatusNotFound, "not_found", "job has no stored files")
		return
	}

	assets := make([]zip.Asset, 0, len(keys))
	for _, key := range keys {
		data, err := a.Outputs.Read(r.Context(), key)
		if errors.Is(err, storage.ErrNotExist) {
			infra.LoggerOrDiscard(a.Logger).Warn().
				Str("job_id", job.ID).Str("key", key).Msg("http: output missing from store")
			continue
		}
		if err != nil {
			a.fail(w, r, err)
			return
		}
		assets = append(assets, zip.Asset{Filename: key, Data: data, Modified: modTime(job)})
	}
	if len(assets) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "stored files are gone")
		return
	}

	bundle, err := zip.ArchiveAssets(assets)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.zip"`, job.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(bundle)
}

func modTime(job domain.Job) time.Time {
	if job.CompletedAt != nil {
		return *job.CompletedAt
	}
	return job.CreatedAt
}

// GetOutput godoc
// @Summary Download one stored output file
// @Tags outputs
// @Param key path string true "storage key, e.g. images/<job>/<file>"
// @Success 200 {file} file
// @Failure 404 {object} apiError
// @Router /v1/outputs/{key} [get]
func (a *App) GetOutput(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if a.Outputs == nil || key == "" {
		a.error(w, http.StatusNotFound, "not_found", "no such output")
		return
	}
	data, err := a.Outputs.Read(r.Context(), key)
	if errors.Is(err, storage.ErrNotExist) {
		a.error(w, http.StatusNotFound, "not_found", "no such output")
		return
	}
	if err != nil {
		a.error(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	ctype := mime.TypeByExtension(path.Ext(key))
	if ctype == "" {
		ctype = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
