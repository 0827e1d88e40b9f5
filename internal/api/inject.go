package api

import (
	"errors"
	"path"
	"path/filepath"
	"strings"

	"gantrymon/internal/pending"
)

// ErrNoPaths rejects an injection that names no files.
var ErrNoPaths = errors.New("request names no paths")

// Submissions converts an injection into pending submissions. Relative
// paths are resolved against incomingDir. The dataset is the explicit name
// when given, otherwise it is derived from each path with the sensor and
// timestamp overrides applied. Per-file metadata is looked up by full path
// first, then by base name.
func (r InjectRequest) Submissions(incomingDir string) ([]pending.Submission, error) {
	var paths []string
	if p := strings.TrimSpace(r.Path); p != "" {
		paths = append(paths, p)
	}
	for _, p := range r.Paths {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return nil, ErrNoPaths
	}

	byDataset := make(map[string]*pending.Submission)
	var order []string
	for i, p := range paths {
		local := resolve(incomingDir, p)
		rec := pending.NewRecord(incomingDir, local, r.metadataFor(i, p, local))

		dataset := strings.TrimSpace(r.DatasetName)
		if dataset == "" {
			dataset = pending.DeriveDataset(rec.RelPath, strings.TrimSpace(r.SensorName), strings.TrimSpace(r.Timestamp))
		}
		sub, ok := byDataset[dataset]
		if !ok {
			sub = &pending.Submission{Dataset: dataset, SpaceID: strings.TrimSpace(r.SpaceID)}
			byDataset[dataset] = sub
			order = append(order, dataset)
		}
		sub.Files = append(sub.Files, rec)
	}

	out := make([]pending.Submission, 0, len(order))
	for _, key := range order {
		out = append(out, *byDataset[key])
	}
	return out, nil
}

// The single-path shape carries its metadata in md; it is index 0 whenever
// Path is set.
func (r InjectRequest) metadataFor(index int, given, local string) map[string]any {
	if index == 0 && strings.TrimSpace(r.Path) != "" {
		return r.Metadata
	}
	if md, ok := r.FileMetadata[given]; ok {
		return md
	}
	if md, ok := r.FileMetadata[local]; ok {
		return md
	}
	return r.FileMetadata[path.Base(filepath.ToSlash(given))]
}

func resolve(root, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}
