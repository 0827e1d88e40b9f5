package scanner

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gantrymon/internal/config"
)

// logFiles lists a source's files oldest first, ending with the live log.
// Rotated siblings are ordered lexically, which matches date-suffixed
// names such as xferlog-20160501.gz.
func logFiles(dir string, src config.LogSource) ([]string, error) {
	live := filepath.Join(dir, src.Live)
	if src.RotatedPrefix == "" {
		return []string{live}, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list log directory: %w", err)
	}
	var rotated []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == src.Live || !strings.HasPrefix(name, src.RotatedPrefix) {
			continue
		}
		rotated = append(rotated, name)
	}
	sort.Strings(rotated)
	files := make([]string, 0, len(rotated)+1)
	for _, name := range rotated {
		files = append(files, filepath.Join(dir, name))
	}
	return append(files, live), nil
}

// eachLine calls fn for every line of path, transparently decompressing
// .gz files. fn returns false to stop early. A missing file has no lines.
func eachLine(path string, fn func(line string) bool) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("open gzip log %s: %w", filepath.Base(path), err)
		}
		defer gz.Close()
		r = gz
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if !fn(strings.TrimRight(sc.Text(), " \t\r")) {
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read log %s: %w", filepath.Base(path), err)
	}
	return nil
}

func firstLine(path string) (string, error) {
	var first string
	err := eachLine(path, func(line string) bool {
		first = line
		return false
	})
	return first, err
}

// locate finds the file holding resume, walking back from the live log.
// Files whose first line is newer than the resume line cannot contain it
// and are skipped without a full read. When the resume line carries no
// parseable time every file is read.
func locate(files []string, format, resume string) (int, error) {
	resumeTime := lineTime(format, resume)
	shortcut := !resumeTime.Equal(unknownLineTime)
	for i := len(files) - 1; i >= 0; i-- {
		first, err := firstLine(files[i])
		if err != nil {
			return -1, err
		}
		if first == "" {
			continue
		}
		if shortcut && lineTime(format, first).After(resumeTime) {
			continue
		}
		found := false
		if err := eachLine(files[i], func(line string) bool {
			if line == resume {
				found = true
				return false
			}
			return true
		}); err != nil {
			return -1, err
		}
		if found {
			return i, nil
		}
	}
	return -1, nil
}
