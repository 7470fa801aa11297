// Package discovery enumerates provider log files under configured roots.
//
// Each configured root belongs to one provider. Roots are walked
// recursively (Codex nests rollout files under YYYY/MM/DD, Claude Code
// under one directory per project) and every *.jsonl file found is
// reported with the provider tag of its root.
//
// Example usage:
//
//	d := discovery.New([]discovery.Root{
//	    {Provider: parser.ProviderClaudeCode, Path: "~/.claude/projects"},
//	    {Provider: parser.ProviderCodex, Path: "~/.codex/sessions"},
//	}, logger.Default())
//	files, err := d.Discover(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, f := range files {
//	    fmt.Printf("%s %s\n", f.Provider, f.Path)
//	}
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/0xmhha/token-rollup/pkg/parser"
)

// Logger defines the logging interface used by the discovery package.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// LogExtension is the suffix of every provider log file.
const LogExtension = ".jsonl"

// Root is one directory to walk for a provider.
type Root struct {
	// Name labels the root in logs. Defaults to the provider tag.
	Name string

	// Provider is the tag of the parser for files under Path.
	Provider parser.Provider

	// Path is the directory to walk. "~" is expanded.
	Path string
}

// LogFile is a discovered provider log.
type LogFile struct {
	// Path is the absolute path of the file.
	Path string

	// Provider is the tag inherited from the root.
	Provider parser.Provider

	// Root is the expanded root directory the file was found under.
	Root string

	// Size is the file size in bytes at discovery time.
	Size int64

	// ModTime is the last modification time (Unix seconds).
	ModTime int64
}

// Discoverer enumerates log files.
type Discoverer interface {
	// Discover walks every root and returns all log files, ordered by path.
	//
	// Returns:
	//   - Slice of discovered files
	//   - Error only if ctx is canceled or a root exists but cannot be read
	//
	// Missing roots are logged and skipped. A file reachable from two roots
	// is reported once, with the provider of the first root.
	Discover(ctx context.Context) ([]LogFile, error)

	// Roots returns the configured roots.
	Roots() []Root
}

// discoverer implements the Discoverer interface.
type discoverer struct {
	roots  []Root
	logger Logger
}

// New creates a new Discoverer instance.
//
// Parameters:
//   - roots: Directories to walk, each tagged with its provider
//   - logger: Logger instance for diagnostic messages
//
// Returns a configured Discoverer.
func New(roots []Root, logger Logger) Discoverer {
	return &discoverer{
		roots:  roots,
		logger: logger,
	}
}

// Roots implements Discoverer.Roots.
func (d *discoverer) Roots() []Root {
	return append([]Root(nil), d.roots...)
}

// Discover implements Discoverer.Discover.
func (d *discoverer) Discover(ctx context.Context) ([]LogFile, error) {
	var all []LogFile

	for _, root := range d.roots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dir, err := filepath.Abs(expandHome(root.Path))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidRoot, root.Path, err)
		}

		info, err := os.Stat(dir)
		if err != nil {
			if os.IsNotExist(err) {
				d.logger.Warn("root not found, skipping",
					"root", rootName(root),
					"path", dir)
				continue
			}
			return nil, fmt.Errorf("failed to stat root %s: %w", dir, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidRoot, dir)
		}

		files, err := d.walkRoot(ctx, root, dir)
		if err != nil {
			return nil, fmt.Errorf("failed to scan root %s: %w", dir, err)
		}
		all = append(all, files...)
	}

	all = lo.UniqBy(all, func(f LogFile) string { return f.Path })
	sort.Slice(all, func(i, j int) bool { return all[i].Path < all[j].Path })

	d.logger.Debug("discovery complete", "total_files", len(all))
	return all, nil
}

// walkRoot collects log files below dir. Unreadable subdirectories are
// logged and skipped.
func (d *discoverer) walkRoot(ctx context.Context, root Root, dir string) ([]LogFile, error) {
	files := make([]LogFile, 0, 16)

	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == dir {
				return walkErr
			}
			d.logger.Warn("failed to read path", "path", path, "error", walkErr)
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if entry.IsDir() {
			if path != dir && strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), LogExtension) {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			d.logger.Warn("failed to get file info", "path", path, "error", err)
			return nil
		}

		files = append(files, LogFile{
			Path:     path,
			Provider: root.Provider,
			Root:     dir,
			Size:     info.Size(),
			ModTime:  info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.logger.Debug("scanned root",
		"root", rootName(root),
		"path", dir,
		"files_found", len(files))

	return files, nil
}

func rootName(r Root) string {
	if r.Name != "" {
		return r.Name
	}
	return r.Provider.String()
}

// expandHome expands ~ in file paths to the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return homeDir
	}

	return filepath.Join(homeDir, path[2:])
}
