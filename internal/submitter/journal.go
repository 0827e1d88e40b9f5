package submitter

import (
	"fmt"
	"time"

	"gantrymon/internal/fileutil"
	"gantrymon/internal/pending"
	"gantrymon/internal/transfer"
)

// journal is the batch currently being handed to the transfer service.
type journal struct {
	SubmissionID string            `json:"submission_id"`
	Label        string            `json:"label"`
	CreatedAt    time.Time         `json:"created_at"`
	Contents     pending.Manifests `json:"contents"`
	Items        []transfer.Item   `json:"items"`
}

func loadJournal(path string) (*journal, error) {
	var j journal
	found, err := fileutil.ReadJSON(path, &j)
	if err != nil {
		return nil, fmt.Errorf("load in-flight journal: %w", err)
	}
	if !found || j.SubmissionID == "" {
		return nil, nil
	}
	return &j, nil
}

func saveJournal(path string, j *journal) error {
	if err := fileutil.WriteJSON(path, j, 0o644); err != nil {
		return fmt.Errorf("write in-flight journal: %w", err)
	}
	return nil
}

func clearJournal(path string) error {
	return fileutil.RemoveDurable(path)
}
