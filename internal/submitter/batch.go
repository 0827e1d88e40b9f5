package submitter

import (
	"path"
	"strings"

	"gantrymon/internal/pending"
	"gantrymon/internal/transfer"
)

// buildBatch walks the snapshot in dataset order and takes files until
// limit is reached. A dataset may be split across batches; its metadata
// travels with the first part. Manifests holding only metadata ride along
// with a batch that has room but never form a batch of their own.
func (s *Submitter) buildBatch(snapshot pending.Manifests, limit int) (pending.Manifests, []transfer.Item) {
	batch := make(pending.Manifests)
	var items []transfer.Item

	for _, key := range snapshot.Keys() {
		if len(items) >= limit {
			break
		}
		m := snapshot[key]
		if m == nil {
			continue
		}
		part := pending.NewManifest()
		part.SpaceID = m.SpaceID
		part.Metadata = m.Metadata
		part.MetadataRevision = m.MetadataRevision

		for _, fk := range m.SortedKeys() {
			if len(items) >= limit {
				break
			}
			rec := m.Files[fk].Clone()
			if rec == nil {
				continue
			}
			rec.DestPath = s.rewriter.Destination(relativePath(rec))
			part.Files[fk] = rec
			items = append(items, transfer.Item{Source: s.sourcePath(rec), Destination: rec.DestPath})
		}
		if !part.Empty() {
			batch[key] = part
		}
	}
	if len(items) == 0 {
		return nil, nil
	}
	return batch, items
}

func relativePath(rec *pending.FileRecord) string {
	if rec.RelPath != "" {
		return rec.RelPath
	}
	return strings.TrimLeft(rec.SourcePath, "/")
}

// sourcePath is where the transfer service's source endpoint sees the file.
func (s *Submitter) sourcePath(rec *pending.FileRecord) string {
	if rec.RelPath == "" || s.transferRoot == "" {
		return rec.SourcePath
	}
	return path.Join(s.transferRoot, rec.RelPath)
}
