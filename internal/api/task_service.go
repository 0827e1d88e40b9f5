package api

import (
	"context"

	"gantrymon/internal/ledger"
)

// TaskStore abstracts the ledger operations behind the task endpoints.
type TaskStore interface {
	List(ctx context.Context, statuses ...ledger.Status) ([]*ledger.Task, error)
	Get(ctx context.Context, id string) (*ledger.Task, error)
	Events(ctx context.Context, id string) ([]ledger.Event, error)
	Stats(ctx context.Context) (map[ledger.Status]int, error)
	Cancel(ctx context.Context, id string) error
	Requeue(ctx context.Context, id string) error
}

// TaskService exposes ledger operations returning API DTOs.
type TaskService struct {
	store TaskStore
}

// NewTaskService constructs a TaskService around the provided store.
func NewTaskService(store TaskStore) *TaskService {
	if store == nil {
		return nil
	}
	return &TaskService{store: store}
}

// List returns tasks filtered by status, oldest first.
func (s *TaskService) List(ctx context.Context, statuses ...ledger.Status) ([]Task, error) {
	if s == nil {
		return nil, nil
	}
	tasks, err := s.store.List(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromTasks(tasks), nil
}

// Describe fetches one task with its contents. Unknown ids return
// ledger.ErrNotFound.
func (s *TaskService) Describe(ctx context.Context, id string) (Task, error) {
	if s == nil {
		return Task{}, ledger.ErrNotFound
	}
	task, err := s.store.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}
	return FromTask(task, true), nil
}

// Events returns the status history of a task.
func (s *TaskService) Events(ctx context.Context, id string) ([]Event, error) {
	if s == nil {
		return nil, ledger.ErrNotFound
	}
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	events, err := s.store.Events(ctx, id)
	if err != nil {
		return nil, err
	}
	return FromEvents(events), nil
}

// Counts returns task counts keyed by status string.
func (s *TaskService) Counts(ctx context.Context) (map[string]int, error) {
	if s == nil {
		return TaskCounts(nil), nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return TaskCounts(stats), nil
}

// Cancel moves a task to DELETED and returns its new state.
func (s *TaskService) Cancel(ctx context.Context, id string) (Task, error) {
	if s == nil {
		return Task{}, ledger.ErrNotFound
	}
	if err := s.store.Cancel(ctx, id); err != nil {
		return Task{}, err
	}
	return s.Describe(ctx, id)
}

// Requeue resets the retry budget of a RETRY task and returns its new state.
func (s *TaskService) Requeue(ctx context.Context, id string) (Task, error) {
	if s == nil {
		return Task{}, ledger.ErrNotFound
	}
	if err := s.store.Requeue(ctx, id); err != nil {
		return Task{}, err
	}
	return s.Describe(ctx, id)
}
