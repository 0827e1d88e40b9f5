package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"syscall"

	"gantrymon/internal/api"
	"gantrymon/internal/config"
	"gantrymon/internal/ledger"
)

type commandContext struct {
	configFlag *string
	apiFlag    *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, apiFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		apiFlag:    apiFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) apiBind() string {
	if c.apiFlag != nil {
		if bind := strings.TrimSpace(*c.apiFlag); bind != "" {
			return bind
		}
	}
	if c.config == nil {
		return ""
	}
	return c.config.Paths.APIBind
}

func (c *commandContext) apiClient() (*api.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	bind := c.apiBind()
	if bind == "" {
		return nil, errors.New("paths.api_bind is empty; the daemon API is disabled")
	}
	return api.NewClient(bind, cfg.Paths.APIToken), nil
}

func (c *commandContext) withLedger(fn func(*ledger.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := ledger.Open(cfg)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer store.Close()
	return fn(store)
}

// withTasks hands fn the daemon API when the daemon answers and the ledger
// database otherwise.
func (c *commandContext) withTasks(ctx context.Context, fn func(taskBackend) error) error {
	client, err := c.apiClient()
	if err != nil {
		return err
	}
	if _, err := client.Status(ctx); err != nil {
		if !daemonUnavailable(err) {
			return err
		}
		return c.withLedger(func(store *ledger.Store) error {
			return fn(api.NewTaskService(store))
		})
	}
	return fn(clientTasks{client: client})
}

func daemonUnavailable(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENOENT)
}

func daemonNotRunning(bind string) error {
	return fmt.Errorf("daemon is not running at %s; start it with `gantrymon run`", bind)
}

type taskBackend interface {
	List(ctx context.Context, statuses ...ledger.Status) ([]api.Task, error)
	Describe(ctx context.Context, id string) (api.Task, error)
	Events(ctx context.Context, id string) ([]api.Event, error)
	Cancel(ctx context.Context, id string) (api.Task, error)
	Requeue(ctx context.Context, id string) (api.Task, error)
}

type clientTasks struct {
	client *api.Client
}

func (c clientTasks) List(ctx context.Context, statuses ...ledger.Status) ([]api.Task, error) {
	names := make([]string, 0, len(statuses))
	for _, status := range statuses {
		names = append(names, string(status))
	}
	return c.client.Tasks(ctx, names...)
}

func (c clientTasks) Describe(ctx context.Context, id string) (api.Task, error) {
	return deref(c.client.Task(ctx, id))
}

func (c clientTasks) Events(ctx context.Context, id string) ([]api.Event, error) {
	return c.client.TaskEvents(ctx, id)
}

func (c clientTasks) Cancel(ctx context.Context, id string) (api.Task, error) {
	return deref(c.client.CancelTask(ctx, id))
}

func (c clientTasks) Requeue(ctx context.Context, id string) (api.Task, error) {
	return deref(c.client.RequeueTask(ctx, id))
}

func deref(task *api.Task, err error) (api.Task, error) {
	if err != nil || task == nil {
		return api.Task{}, err
	}
	return *task, nil
}
