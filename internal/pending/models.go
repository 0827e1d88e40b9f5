package pending

import (
	"path"
	"sort"
	"strings"
)

// MetadataFileName marks a file whose JSON content describes the whole dataset.
const MetadataFileName = "metadata.json"

// FileRecord is one landed file. Only ClowderID and the Retry/Error
// annotations change after the record is created.
type FileRecord struct {
	Name       string         `json:"name"`
	SourcePath string         `json:"source_path"`
	RelPath    string         `json:"rel_path,omitempty"`
	DestPath   string         `json:"dest_path,omitempty"`
	Metadata   map[string]any `json:"md,omitempty"`
	IsMetadata bool           `json:"is_metadata,omitempty"`
	ClowderID  string         `json:"clowder_id,omitempty"`
	Retry      string         `json:"retry,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Key identifies the record inside its manifest. The destination path is a
// pure function of the relative path, so both dedupe the same way.
func (r FileRecord) Key() string {
	if r.RelPath != "" {
		return r.RelPath
	}
	return r.SourcePath
}

// Clone returns a deep copy of the record.
func (r *FileRecord) Clone() *FileRecord {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Metadata = cloneMap(r.Metadata)
	return &cp
}

// ClearAnnotations drops retry and error markers after a successful call.
func (r *FileRecord) ClearAnnotations() {
	r.Retry = ""
	r.Error = ""
}

// Manifest groups the files and metadata of one dataset.
type Manifest struct {
	Files            map[string]*FileRecord `json:"files"`
	Metadata         map[string]any         `json:"md,omitempty"`
	MetadataRevision int                    `json:"md_revision,omitempty"`
	MetadataLoaded   bool                   `json:"md_loaded,omitempty"`
	SpaceID          string                 `json:"space_id,omitempty"`
	Retry            string                 `json:"retry,omitempty"`
	Error            string                 `json:"error,omitempty"`
}

// NewManifest returns an empty manifest.
func NewManifest() *Manifest {
	return &Manifest{Files: make(map[string]*FileRecord)}
}

// Clone returns a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Metadata = cloneMap(m.Metadata)
	cp.Files = make(map[string]*FileRecord, len(m.Files))
	for key, rec := range m.Files {
		cp.Files[key] = rec.Clone()
	}
	return &cp
}

// Empty reports whether the manifest carries neither files nor metadata.
func (m *Manifest) Empty() bool {
	return m == nil || (len(m.Files) == 0 && len(m.Metadata) == 0)
}

// Put stores a record, replacing any earlier record with the same key.
func (m *Manifest) Put(rec *FileRecord) {
	if m.Files == nil {
		m.Files = make(map[string]*FileRecord)
	}
	m.Files[rec.Key()] = rec
}

// SetMetadata replaces the dataset metadata and bumps the revision so a
// concurrent drain of an older revision leaves the new value in place.
func (m *Manifest) SetMetadata(md map[string]any) {
	m.Metadata = cloneMap(md)
	m.MetadataRevision++
	m.MetadataLoaded = false
}

// SortedKeys returns file keys in lexical order.
func (m *Manifest) SortedKeys() []string {
	keys := make([]string, 0, len(m.Files))
	for key := range m.Files {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Manifests maps dataset keys to manifests.
type Manifests map[string]*Manifest

// Clone returns a deep copy.
func (ms Manifests) Clone() Manifests {
	out := make(Manifests, len(ms))
	for key, m := range ms {
		out[key] = m.Clone()
	}
	return out
}

// FileCount sums file records across manifests.
func (ms Manifests) FileCount() int {
	total := 0
	for _, m := range ms {
		if m != nil {
			total += len(m.Files)
		}
	}
	return total
}

// Keys returns dataset keys in lexical order.
func (ms Manifests) Keys() []string {
	keys := make([]string, 0, len(ms))
	for key := range ms {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Merge folds other into ms. Files with the same key are replaced and
// metadata is last-write-wins.
func (ms Manifests) Merge(other Manifests) {
	for key, incoming := range other {
		if incoming == nil {
			continue
		}
		current, ok := ms[key]
		if !ok {
			ms[key] = incoming.Clone()
			continue
		}
		for _, rec := range incoming.Files {
			current.Put(rec.Clone())
		}
		if len(incoming.Metadata) > 0 {
			current.SetMetadata(incoming.Metadata)
		}
		if incoming.SpaceID != "" {
			current.SpaceID = incoming.SpaceID
		}
	}
}

// IsMetadataFile reports whether name is a dataset metadata document.
func IsMetadataFile(name string) bool {
	return strings.EqualFold(path.Base(name), MetadataFileName)
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return cloneMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
