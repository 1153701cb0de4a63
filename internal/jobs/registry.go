package jobs

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	fileutil "harvester/internal/file"
)

// Job is the envelope stored or published for every submitted spec.
type Job struct {
	ID          string    `json:"id"`
	SubmittedAt time.Time `json:"submitted_at"`
	Spec        Spec      `json:"specification"`
}

func newJob(spec Spec) Job {
	return Job{ID: uuid.NewString(), SubmittedAt: time.Now().UTC(), Spec: spec}
}

// FileRegistry writes each job to <dataDir>/jobs/<id>.json.
type FileRegistry struct {
	dir string
}

func NewFileRegistry(dataDir string) *FileRegistry {
	if dataDir == "" {
		dataDir = "data"
	}
	return &FileRegistry{dir: filepath.Join(dataDir, "jobs")}
}

func (r *FileRegistry) Submit(ctx context.Context, spec Spec) (string, error) {
	job := newJob(spec)
	if err := fileutil.WriteJSONAtomic(r.path(job.ID), job); err != nil {
		return "", fmt.Errorf("write job: %w", err)
	}
	log.Ctx(ctx).Debug().Str("job_id", job.ID).Str("datafile", spec.Ancestry.Datafile).Msg("job written")
	return job.ID, nil
}

// Load reads a previously submitted job.
func (r *FileRegistry) Load(id string) (Job, error) {
	var job Job
	if err := fileutil.ReadJSON(r.path(id), &job); err != nil {
		return Job{}, fmt.Errorf("read job %s: %w", id, err)
	}
	return job, nil
}

func (r *FileRegistry) path(id string) string { return filepath.Join(r.dir, id+".json") }
