package registry

import (
	"encoding/json"
	"os"
	"sort"
	"strings"
	"sync"
)

// Entry is the public metadata for one allowlisted run. Entries are immutable
// from the service's point of view; the JSON file is the source of truth.
type Entry struct {
	RunID               string   `json:"run_id"`
	Category            string   `json:"category"`
	Label               string   `json:"label"`
	Address             string   `json:"address"`
	ImageryYear         int      `json:"imagery_year"`
	BaselineYear        int      `json:"baseline_year"`
	SegmentationBackend string   `json:"segmentation_backend"`
	Outputs             []string `json:"outputs"`
}

type allowlistFile struct {
	Runs []Entry `json:"runs"`
}

// DemoRegistry is a file-backed allowlist of publicly viewable runs. The
// in-memory index is rebuilt lazily, gated on the file's modification time:
// the mtime is checked on every call but the file is only re-parsed when it
// changed, so high read volume costs one stat per call. A missing file fails
// closed to an empty registry.
type DemoRegistry struct {
	path string

	mu         sync.Mutex
	mtimeNanos int64
	loaded     bool
	byID       map[string]Entry
	byCategory map[string][]Entry
}

func NewDemoRegistry(path string) *DemoRegistry {
	return &DemoRegistry{path: path}
}

func (r *DemoRegistry) Get(runID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reloadLocked()
	e, ok := r.byID[runID]
	return e, ok
}

// Featured returns category -> entries, ordered lexicographically by
// lowercased label with run id as the tie-break, so repeated calls without an
// underlying file change are identical.
func (r *DemoRegistry) Featured() map[string][]Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reloadLocked()

	out := make(map[string][]Entry, len(r.byCategory))
	for cat, entries := range r.byCategory {
		out[cat] = append([]Entry(nil), entries...)
	}
	return out
}

func (r *DemoRegistry) reloadLocked() {
	// Unreadable files are treated like missing ones: expose nothing.
	info, err := os.Stat(r.path)
	if err != nil {
		r.byID = nil
		r.byCategory = nil
		r.mtimeNanos = 0
		r.loaded = false
		return
	}

	mtime := info.ModTime().UnixNano()
	if r.loaded && mtime == r.mtimeNanos {
		return
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		r.byID = nil
		r.byCategory = nil
		r.loaded = false
		return
	}

	// The only accepted input shape is {"runs": [...]}; the precompute CLI
	// always writes it. Anything else parses to an empty allowlist.
	var file allowlistFile
	if err := json.Unmarshal(data, &file); err != nil {
		r.byID = nil
		r.byCategory = nil
		r.loaded = false
		return
	}

	byID := make(map[string]Entry, len(file.Runs))
	byCategory := make(map[string][]Entry)

	for _, e := range file.Runs {
		e.RunID = strings.TrimSpace(e.RunID)
		if e.RunID == "" {
			continue
		}
		e.Category = strings.TrimSpace(e.Category)
		if e.Category == "" {
			e.Category = "Featured"
		}
		if e.Label == "" {
			e.Label = e.RunID
		}
		byID[e.RunID] = e
		byCategory[e.Category] = append(byCategory[e.Category], e)
	}

	for cat := range byCategory {
		entries := byCategory[cat]
		sort.Slice(entries, func(i, j int) bool {
			li, lj := strings.ToLower(entries[i].Label), strings.ToLower(entries[j].Label)
			if li != lj {
				return li < lj
			}
			return entries[i].RunID < entries[j].RunID
		})
	}

	r.byID = byID
	r.byCategory = byCategory
	r.mtimeNanos = mtime
	r.loaded = true
}
