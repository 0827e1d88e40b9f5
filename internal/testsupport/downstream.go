package testsupport

import (
	"context"
	"fmt"
	"path"
	"sync"

	"gantrymon/internal/downstream"
)

// FakeDownstream is an in-memory downstream.Store.
type FakeDownstream struct {
	mu sync.Mutex

	Agent       string
	Collections map[string]string
	Parents     map[string]string
	Datasets    map[string]string
	Files       map[string][]downstream.StoredFile
	Metadata    map[string][]map[string]any
	Notices     []downstream.TaskNotice

	Uploads     int
	Attachments int
	Creates     int

	// BareUploadID makes UploadFiles answer with one unnamed id for the
	// whole request.
	BareUploadID bool

	// Errors returned by the named operation ("notify", "find_collection",
	// "create_collection", "find_dataset", "create_dataset", "list_files",
	// "upload", "read_metadata", "attach_metadata").
	Errors map[string]error

	nextID int
}

// NewFakeDownstream returns an empty fake.
func NewFakeDownstream() *FakeDownstream {
	return &FakeDownstream{
		Agent:       "https://downstream.test/api/users/user-1",
		Collections: make(map[string]string),
		Parents:     make(map[string]string),
		Datasets:    make(map[string]string),
		Files:       make(map[string][]downstream.StoredFile),
		Metadata:    make(map[string][]map[string]any),
		Errors:      make(map[string]error),
	}
}

// Fail makes op return err until cleared with Fail(op, nil).
func (f *FakeDownstream) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.Errors, op)
		return
	}
	f.Errors[op] = err
}

func (f *FakeDownstream) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *FakeDownstream) AgentID() string { return f.Agent }

func (f *FakeDownstream) NotifyTask(_ context.Context, notice downstream.TaskNotice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errors["notify"]; err != nil {
		return err
	}
	f.Notices = append(f.Notices, notice)
	return nil
}

func (f *FakeDownstream) FindCollection(_ context.Context, name string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errors["find_collection"]; err != nil {
		return "", false, err
	}
	id, ok := f.Collections[name]
	return id, ok, nil
}

func (f *FakeDownstream) CreateCollection(_ context.Context, spec downstream.CollectionSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errors["create_collection"]; err != nil {
		return "", err
	}
	id := f.id("coll")
	f.Collections[spec.Name] = id
	f.Parents[id] = spec.ParentID
	f.Creates++
	return id, nil
}

func (f *FakeDownstream) FindDataset(_ context.Context, name string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errors["find_dataset"]; err != nil {
		return "", false, err
	}
	id, ok := f.Datasets[name]
	return id, ok, nil
}

func (f *FakeDownstream) CreateDataset(_ context.Context, spec downstream.DatasetSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errors["create_dataset"]; err != nil {
		return "", err
	}
	id := f.id("ds")
	f.Datasets[spec.Name] = id
	f.Parents[id] = spec.CollectionID
	f.Creates++
	return id, nil
}

func (f *FakeDownstream) ListFiles(_ context.Context, datasetID string) ([]downstream.StoredFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errors["list_files"]; err != nil {
		return nil, err
	}
	return append([]downstream.StoredFile(nil), f.Files[datasetID]...), nil
}

func (f *FakeDownstream) UploadFiles(_ context.Context, datasetID string, files []downstream.Upload) ([]downstream.UploadedFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errors["upload"]; err != nil {
		return nil, err
	}
	var out []downstream.UploadedFile
	for _, up := range files {
		id := f.id("file")
		name := path.Base(up.Path)
		f.Files[datasetID] = append(f.Files[datasetID], downstream.StoredFile{ID: id, Filename: name, Filepath: up.Path})
		out = append(out, downstream.UploadedFile{Name: name, Path: up.Path, ID: id})
		f.Uploads++
	}
	if f.BareUploadID && len(out) > 0 {
		return []downstream.UploadedFile{{ID: out[0].ID}}, nil
	}
	return out, nil
}

func (f *FakeDownstream) DatasetMetadata(_ context.Context, datasetID string) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errors["read_metadata"]; err != nil {
		return nil, err
	}
	return append([]map[string]any(nil), f.Metadata[datasetID]...), nil
}

func (f *FakeDownstream) AttachDatasetMetadata(_ context.Context, datasetID string, content map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errors["attach_metadata"]; err != nil {
		return err
	}
	f.Metadata[datasetID] = append(f.Metadata[datasetID], map[string]any{
		"content": content,
		"agent":   map[string]any{"@type": "cat:user", "user_id": f.Agent},
	})
	f.Attachments++
	return nil
}

// StoredPaths lists the file paths registered in the named dataset.
func (f *FakeDownstream) StoredPaths(datasetName string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, sf := range f.Files[f.Datasets[datasetName]] {
		out = append(out, sf.Filepath)
	}
	return out
}
