package storage

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-pkgz/fileutils"
	"github.com/hashicorp/go-multierror"

	"github.com/commentguard/comment-guard/lib/validator"
)

// FileBlacklists loads phrase lists from a directory of text files, one list
// per file. The list name is the file name without extension, the weight
// defaults to 1.0 and can be set with a "weight: N" line. Lines starting
// with # and blank lines are skipped, every other line is a phrase.
type FileBlacklists struct {
	dir string

	mu    sync.RWMutex
	lists []validator.Blacklist
}

// NewFileBlacklists loads all .txt files from the directory.
func NewFileBlacklists(dir string) (*FileBlacklists, error) {
	f := &FileBlacklists{dir: dir}
	if err := f.load(); err != nil {
		return nil, fmt.Errorf("failed to load blacklist files from %s: %w", dir, err)
	}
	return f, nil
}

// All returns the loaded lists, ordered by name and descending weight.
func (f *FileBlacklists) All(_ context.Context) ([]validator.Blacklist, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	res := make([]validator.Blacklist, len(f.lists))
	copy(res, f.lists)
	return res, nil
}

// Watch reloads the lists when files in the directory change.
// blocks until the context is cancelled.
func (f *FileBlacklists) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(f.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", f.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			log.Printf("[INFO] stopping blacklist watcher for %s, %v", f.dir, ctx.Err())
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".txt" {
				continue
			}
			if err := f.load(); err != nil {
				log.Printf("[WARN] failed to reload blacklists from %s: %v", f.dir, err)
				continue
			}
			log.Printf("[INFO] blacklists reloaded from %s after change in %s", f.dir, event.Name)
		case e, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[WARN] watcher error: %v", e)
		}
	}
}

// Backup copies the blacklist files to the destination directory.
func (f *FileBlacklists) Backup(dst string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := fileutils.CopyDir(f.dir, dst); err != nil {
		return fmt.Errorf("failed to backup blacklists to %s: %w", dst, err)
	}
	return nil
}

func (f *FileBlacklists) load() error {
	files, err := filepath.Glob(filepath.Join(f.dir, "*.txt"))
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", f.dir, err)
	}

	lists := make([]validator.Blacklist, 0, len(files))
	errs := new(multierror.Error)
	for _, file := range files {
		list, err := parseBlacklistFile(file)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		lists = append(lists, list)
	}
	sort.Slice(lists, func(i, j int) bool {
		if lists[i].Name != lists[j].Name {
			return lists[i].Name < lists[j].Name
		}
		return lists[i].Weight > lists[j].Weight
	})

	f.mu.Lock()
	f.lists = lists
	f.mu.Unlock()
	return errs.ErrorOrNil()
}

func parseBlacklistFile(file string) (validator.Blacklist, error) {
	fh, err := os.Open(file) //nolint:gosec // file path comes from the configured directory
	if err != nil {
		return validator.Blacklist{}, fmt.Errorf("failed to open %s: %w", file, err)
	}
	defer fh.Close()

	name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	list := validator.Blacklist{Name: name, Weight: 1.0}

	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if v, ok := strings.CutPrefix(line, "weight:"); ok {
			weight, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return validator.Blacklist{}, fmt.Errorf("bad weight in %s: %w", file, err)
			}
			list.Weight = weight
			continue
		}
		list.Phrases = append(list.Phrases, line)
	}
	if err := scanner.Err(); err != nil {
		return validator.Blacklist{}, fmt.Errorf("failed to read %s: %w", file, err)
	}
	return list, nil
}
