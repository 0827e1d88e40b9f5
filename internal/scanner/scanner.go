package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gantrymon/internal/config"
	"gantrymon/internal/logging"
	"gantrymon/internal/notifications"
	"gantrymon/internal/pending"
)

// Queue is the part of the pending queue the scanner feeds.
type Queue interface {
	Add(subs ...pending.Submission) (int, error)
	FileCount() int
}

// Result summarizes one scan cycle.
type Result struct {
	Discovered int
	Queued     int
	Skipped    int
	Gaps       []string
	Throttled  bool
}

// Scanner discovers landed files and queues them for transfer.
type Scanner struct {
	cfg       config.Scanner
	queue     Queue
	notifier  notifications.Service
	logger    *slog.Logger
	statePath string
	now       func() time.Time

	mu    sync.Mutex
	state *State
}

// New builds a scanner and restores its resume points from disk.
func New(cfg *config.Config, queue Queue, notifier notifications.Service, logger *slog.Logger) (*Scanner, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.Noop()
	}
	st, err := LoadState(cfg.ScannerStatePath())
	if err != nil {
		return nil, err
	}
	return &Scanner{
		cfg:       cfg.Scanner,
		queue:     queue,
		notifier:  notifier,
		logger:    logging.NewComponentLogger(logger, "scanner"),
		statePath: cfg.ScannerStatePath(),
		now:       time.Now,
		state:     st,
	}, nil
}

// LastLines returns the last consumed line of every log source.
func (s *Scanner) LastLines() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.state.LastLines))
	for k, v := range s.state.LastLines {
		out[k] = v
	}
	return out
}

// Cycle runs both discovery strategies once. The new resume points are
// persisted only after the discovered files are safely in the queue, so a
// failure re-reads the same lines next cycle instead of losing them.
func (s *Scanner) Cycle(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res Result
	budget := s.cfg.MaxPending - s.queue.FileCount()
	if budget <= 0 {
		res.Throttled = true
		s.logger.Info("pending queue at capacity; skipping discovery",
			logging.Int("max_pending", s.cfg.MaxPending))
		return res, nil
	}

	col := newCollector(s, budget)
	next := s.state.clone()

	for _, src := range s.cfg.LogSources {
		if ctx.Err() != nil || col.full() {
			break
		}
		last, gap, err := s.tail(src, next.LastLines[src.Name], col)
		if err != nil {
			logging.WarnWithContext(s.logger, "log source scan failed", "log_scan_failed",
				logging.String("source", src.Name),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check scanner.log_dir permissions and log rotation"))
			continue
		}
		if gap {
			res.Gaps = append(res.Gaps, src.Name)
			s.reportGap(ctx, src.Name, next.LastLines[src.Name])
		}
		next.LastLines[src.Name] = last
	}

	if !col.full() && ctx.Err() == nil {
		s.sweep(next, col)
	}

	res.Discovered = col.count
	res.Skipped = col.skipped
	res.Throttled = col.full()

	if subs := col.submissions(); len(subs) > 0 {
		added, err := s.queue.Add(subs...)
		if err != nil {
			return res, fmt.Errorf("queue discovered files: %w", err)
		}
		res.Queued = added
	}

	next.UpdatedAt = s.now().UTC()
	if err := saveState(s.statePath, next); err != nil {
		return res, err
	}
	s.state = next

	if res.Discovered > 0 || res.Throttled {
		s.logger.Info("scan cycle complete",
			logging.Int("discovered", res.Discovered),
			logging.Int("queued", res.Queued),
			logging.Int("skipped", res.Skipped),
			logging.Bool("throttled", res.Throttled))
	}
	return res, nil
}

// tail consumes lines after resume across rotated files up to the live log
// and returns the new resume point. gap reports that resume was not found
// in any retained file, in which case the live log is read from the top.
func (s *Scanner) tail(src config.LogSource, resume string, col *collector) (string, bool, error) {
	files, err := logFiles(s.cfg.LogDir, src)
	if err != nil {
		return resume, false, err
	}

	start := len(files) - 1
	skipToResume := false
	gap := false
	current := resume
	if resume != "" {
		idx, err := locate(files, src.Format, resume)
		if err != nil {
			return resume, false, err
		}
		if idx < 0 {
			gap = true
			current = ""
		} else {
			start = idx
			skipToResume = true
		}
	}

	stopped := false
	for i := start; i < len(files) && !stopped; i++ {
		passed := !(skipToResume && i == start)
		err := eachLine(files[i], func(line string) bool {
			if !passed {
				passed = line == resume
				return true
			}
			if !col.offerLogged(src, line) {
				stopped = true
				return false
			}
			if line != "" {
				current = line
			}
			return true
		})
		if err != nil {
			return resume, false, err
		}
	}
	return current, gap, nil
}

func (s *Scanner) reportGap(ctx context.Context, source, lastLine string) {
	logging.WarnWithContext(s.logger, "resume point not found in retained logs", "log_gap",
		logging.String("source", source),
		logging.String("last_line", lastLine),
		logging.String(logging.FieldErrorHint, "logs rotated out before they were scanned; check for files landed during the gap"),
		logging.String(logging.FieldImpact, "scanning restarts from the top of the live log"),
		logging.Alert("log_gap"))
	if err := s.notifier.Publish(ctx, notifications.EventLogGap, notifications.Payload{
		"source":   source,
		"lastLine": lastLine,
	}); err != nil {
		s.logger.Debug("log gap notification failed", logging.Error(err))
	}
}

// sweep reports files in the watch directories that have not been modified
// for the quiescence threshold. Files already reported with the same
// modification time are not reported again.
func (s *Scanner) sweep(next *State, col *collector) {
	if len(s.cfg.WatchDirs) == 0 {
		return
	}
	cutoff := s.now().Add(-time.Duration(s.cfg.MinFileAgeMinutes) * time.Minute)
	for _, dir := range s.cfg.WatchDirs {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(s.cfg.IncomingDir, dir)
		}
		visited := make(map[string]struct{})
		complete := true
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			visited[path] = struct{}{}
			if info.ModTime().After(cutoff) {
				return nil
			}
			if seen, ok := next.Swept[path]; ok && seen.Equal(info.ModTime()) {
				return nil
			}
			if !col.offer(path) {
				complete = false
				return fs.SkipAll
			}
			next.Swept[path] = info.ModTime()
			return nil
		})
		if err != nil {
			logging.WarnWithContext(s.logger, "watch directory sweep failed", "watch_sweep_failed",
				logging.String("dir", dir),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check scanner.watch_dirs permissions"))
			continue
		}
		if !complete {
			return
		}
		prefix := dir + string(os.PathSeparator)
		for path := range next.Swept {
			if !strings.HasPrefix(path, prefix) {
				continue
			}
			if _, ok := visited[path]; !ok {
				delete(next.Swept, path)
			}
		}
	}
}

// resolve maps a logged path onto the local incoming directory. Paths
// under the transfer root are rebased; other paths are treated as relative
// to the incoming directory (FTP chroot logs).
func (s *Scanner) resolve(src config.LogSource, logged string) string {
	p := logged
	if src.StripPrefix != "" {
		p = strings.TrimPrefix(p, src.StripPrefix)
	}
	if root := strings.TrimRight(s.cfg.TransferRoot, "/"); root != "" && (p == root || strings.HasPrefix(p, root+"/")) {
		return filepath.Join(s.cfg.IncomingDir, strings.TrimPrefix(p, root))
	}
	incoming := filepath.Clean(s.cfg.IncomingDir)
	if p == incoming || strings.HasPrefix(p, incoming+string(os.PathSeparator)) {
		return p
	}
	return filepath.Join(incoming, p)
}

func (s *Scanner) whitelisted(rel string) bool {
	if len(s.cfg.DirectoryWhitelist) == 0 {
		return true
	}
	for _, entry := range s.cfg.DirectoryWhitelist {
		entry = strings.TrimPrefix(entry, strings.TrimRight(s.cfg.TransferRoot, "/"))
		entry = strings.TrimPrefix(entry, strings.TrimRight(s.cfg.IncomingDir, "/"))
		entry = strings.TrimPrefix(entry, "/")
		if strings.HasPrefix(rel, entry) {
			return true
		}
	}
	return false
}

// collector accumulates discovered files by dataset under a budget.
type collector struct {
	s        *Scanner
	budget   int
	count    int
	skipped  int
	seen     map[string]struct{}
	datasets map[string]*pending.Submission
	order    []string
}

func newCollector(s *Scanner, budget int) *collector {
	return &collector{
		s:        s,
		budget:   budget,
		seen:     make(map[string]struct{}),
		datasets: make(map[string]*pending.Submission),
	}
}

func (c *collector) full() bool {
	return c.count >= c.budget
}

// offerLogged handles one log line. It returns false, without consuming
// the line, when the budget is spent and the line names a file.
func (c *collector) offerLogged(src config.LogSource, line string) bool {
	logged, ok := parseLine(src.Format, line)
	if !ok {
		return true
	}
	if c.full() {
		return false
	}
	local := c.s.resolve(src, logged)
	if _, err := os.Stat(local); err != nil {
		c.skipped++
		c.s.logger.Debug("skipping missing file from log",
			logging.String("source", src.Name),
			logging.String("path", logged))
		return true
	}
	c.offer(local)
	return true
}

// offer adds a local file path. It returns false when the budget is spent.
func (c *collector) offer(local string) bool {
	if c.full() {
		return false
	}
	local = filepath.Clean(local)
	if _, dup := c.seen[local]; dup {
		return true
	}
	c.seen[local] = struct{}{}

	if strings.HasPrefix(filepath.Base(local), ".") {
		c.skipped++
		return true
	}
	rel := pending.RelativeTo(c.s.cfg.IncomingDir, local)
	if !c.s.whitelisted(rel) {
		c.skipped++
		c.s.logger.Debug("path is not whitelisted; skipping", logging.String("path", rel))
		return true
	}

	dataset := pending.DeriveDataset(rel, "", "")
	sub, ok := c.datasets[dataset]
	if !ok {
		sub = &pending.Submission{Dataset: dataset}
		c.datasets[dataset] = sub
		c.order = append(c.order, dataset)
	}
	sub.Files = append(sub.Files, pending.NewRecord(c.s.cfg.IncomingDir, local, nil))
	c.count++
	return true
}

func (c *collector) submissions() []pending.Submission {
	out := make([]pending.Submission, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, *c.datasets[key])
	}
	return out
}
