// Package source holds the configured sources and persists what each
// successful harvest advances: the last harvest time and sequence number.
package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	fileutil "harvester/internal/file"
	"harvester/internal/harvest"
)

// State is the mutable part of a source, stored per source id.
type State struct {
	LastHarvested *time.Time `json:"last_harvested,omitempty"`
	Seqno         *int       `json:"seqno,omitempty"`
}

// FileRepository serves source definitions from configuration with state
// from <dataDir>/sources/<id>/state.json.
type FileRepository struct {
	mu      sync.RWMutex
	dataDir string
	order   []string
	sources map[string]harvest.Source
}

func NewFileRepository(dataDir string, defs []harvest.Source) *FileRepository {
	if dataDir == "" {
		dataDir = "data"
	}
	r := &FileRepository{dataDir: dataDir, sources: make(map[string]harvest.Source, len(defs))}
	for _, src := range defs {
		if _, dup := r.sources[src.ID]; !dup {
			r.order = append(r.order, src.ID)
		}
		r.sources[src.ID] = src
	}
	return r
}

// Load applies persisted state on top of the configured definitions.
// Unreadable state files are logged and skipped.
func (r *FileRepository) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		var st State
		err := fileutil.ReadJSON(r.statePath(id), &st)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			log.Ctx(ctx).Warn().Str("source_id", id).Err(err).Msg("skip unreadable source state")
			continue
		}
		src := r.sources[id]
		src.LastHarvested = st.LastHarvested
		src.Seqno = st.Seqno
		r.sources[id] = src
	}
	return nil
}

// List returns every source in configuration order.
func (r *FileRepository) List(context.Context) []harvest.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]harvest.Source, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sources[id])
	}
	return out
}

// ListEnabled returns the enabled sources of one kind.
func (r *FileRepository) ListEnabled(ctx context.Context, kind harvest.Kind) ([]harvest.Source, error) {
	all := r.List(ctx)
	out := make([]harvest.Source, 0, len(all))
	for _, src := range all {
		if src.Enabled && src.Kind == kind {
			out = append(out, src)
		}
	}
	return out, nil
}

func (r *FileRepository) Get(_ context.Context, id string) (harvest.Source, error) {
	r.mu.RLock()
	src, ok := r.sources[id]
	r.mu.RUnlock()
	if !ok {
		return harvest.Source{}, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	return src, nil
}

// Advance records a successful harvest. The state is written before the
// in-memory copy changes.
func (r *FileRepository) Advance(ctx context.Context, id string, lastHarvested time.Time, seqno *int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	src, ok := r.sources[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	st := State{LastHarvested: &lastHarvested, Seqno: seqno}
	if err := fileutil.WriteJSONAtomic(r.statePath(id), st); err != nil {
		return fmt.Errorf("persist state of %s: %w", id, err)
	}
	src.LastHarvested = st.LastHarvested
	src.Seqno = st.Seqno
	r.sources[id] = src
	log.Ctx(ctx).Debug().Str("source_id", id).Time("last_harvested", lastHarvested).Msg("source advanced")
	return nil
}

func (r *FileRepository) statePath(id string) string {
	return filepath.Join(r.dataDir, "sources", id, "state.json")
}
