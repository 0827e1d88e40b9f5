package testsupport

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"gantrymon/internal/transfer"
)

// FakeTransfer is an in-memory transfer.Service. Replaying a submission id
// returns the task created for it the first time.
type FakeTransfer struct {
	mu sync.Mutex

	Requests  []transfer.SubmitRequest
	Tasks     map[string]string
	Statuses  map[string]transfer.TaskInfo
	Refreshes int

	// Errors returned by the named operation ("submission_id", "submit",
	// "status", "refresh").
	Errors map[string]error
	// Rejections makes the named operation fail with 401 that many times.
	Rejections map[string]int
	// BeforeSubmit runs at the start of every Submit call.
	BeforeSubmit func()

	nextID int
}

// NewFakeTransfer returns an empty fake.
func NewFakeTransfer() *FakeTransfer {
	return &FakeTransfer{
		Tasks:      make(map[string]string),
		Statuses:   make(map[string]transfer.TaskInfo),
		Errors:     make(map[string]error),
		Rejections: make(map[string]int),
	}
}

// Fail makes op return err until cleared with Fail(op, nil).
func (f *FakeTransfer) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.Errors, op)
		return
	}
	f.Errors[op] = err
}

// Reject makes op answer 401 for the next n calls.
func (f *FakeTransfer) Reject(op string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Rejections[op] = n
}

// SetStatus sets what TaskStatus reports for taskID.
func (f *FakeTransfer) SetStatus(taskID string, info transfer.TaskInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info.TaskID = taskID
	f.Statuses[taskID] = info
}

func (f *FakeTransfer) failure(op string) error {
	if n := f.Rejections[op]; n > 0 {
		f.Rejections[op] = n - 1
		return &transfer.StatusError{Op: op, StatusCode: http.StatusUnauthorized, Body: "token expired"}
	}
	return f.Errors[op]
}

func (f *FakeTransfer) SubmissionID(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("submission_id"); err != nil {
		return "", err
	}
	f.nextID++
	return fmt.Sprintf("sub-%d", f.nextID), nil
}

func (f *FakeTransfer) Submit(_ context.Context, req transfer.SubmitRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BeforeSubmit != nil {
		f.BeforeSubmit()
	}
	if err := f.failure("submit"); err != nil {
		return "", err
	}
	f.Requests = append(f.Requests, req)
	if id, ok := f.Tasks[req.SubmissionID]; ok {
		return id, nil
	}
	f.nextID++
	id := fmt.Sprintf("task-%d", f.nextID)
	f.Tasks[req.SubmissionID] = id
	f.Statuses[id] = transfer.TaskInfo{TaskID: id, State: transfer.StateActive, Files: len(req.Items)}
	return id, nil
}

func (f *FakeTransfer) TaskStatus(_ context.Context, taskID string) (transfer.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("status"); err != nil {
		return transfer.TaskInfo{}, err
	}
	info, ok := f.Statuses[taskID]
	if !ok {
		return transfer.TaskInfo{TaskID: taskID, State: transfer.StateNotFound}, nil
	}
	return info, nil
}

func (f *FakeTransfer) RefreshCredentials(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Refreshes++
	return f.Errors["refresh"]
}

// TaskIDs returns the distinct tasks created so far.
func (f *FakeTransfer) TaskIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.Tasks))
	for _, id := range f.Tasks {
		ids = append(ids, id)
	}
	return ids
}
