// Package engine drives the external inference engine as a subprocess.
//
// Every configuration <name>.cfg in the work directory produces <name>.db.
// Successful results move to the cache directory together with a copy of the
// configuration; a later run of an unchanged configuration is skipped.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"thetaauto/domain/core"
	"thetaauto/internal"
	"thetaauto/ports"
)

// outputTail is the number of output lines kept in a failure message
const outputTail = 10

// Runner runs engine configurations with a content-hash cache
type Runner struct {
	Binary      string
	Args        []string
	WorkDir     string
	CacheDir    string
	Parallelism int
	// Timeout bounds each engine process; zero means no limit
	Timeout time.Duration
	Logger  *internal.Logger
}

var _ ports.Engine = (*Runner)(nil)

func (r *Runner) logger() *internal.Logger {
	if r.Logger == nil {
		return internal.DefaultLogger
	}
	return r.Logger
}

func (r *Runner) cacheDir() string {
	if r.CacheDir == "" {
		return filepath.Join(r.WorkDir, "cache")
	}
	return r.CacheDir
}

// CachedDB returns the path of the cached result database of name
func (r *Runner) CachedDB(name string) string {
	return filepath.Join(r.cacheDir(), name+".db")
}

// Run executes the named configurations, at most Parallelism at a time. A
// failing configuration does not stop the others; all failures are joined.
func (r *Runner) Run(ctx context.Context, names []string) error {
	limit := r.Parallelism
	if limit < 1 {
		limit = 1
	}

	errs := make([]error, len(names))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			errs[i] = r.runOne(ctx, name)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (r *Runner) runOne(ctx context.Context, name string) error {
	cfgFile := filepath.Join(r.WorkDir, name+".cfg")
	dbFile := filepath.Join(r.WorkDir, name+".db")
	cachedCfg := filepath.Join(r.cacheDir(), name+".cfg")
	cachedDB := r.CachedDB(name)

	hash, err := core.HashFile(cfgFile)
	if err != nil {
		return core.NewEngineError(name, err)
	}
	if cached, err := core.HashFile(cachedCfg); err == nil && cached.Equals(hash) && fileExists(cachedDB) {
		r.logger().Info("engine: %s unchanged, using cached result %s", name, cachedDB)
		return nil
	}

	if err := os.Remove(dbFile); err != nil && !os.IsNotExist(err) {
		return core.NewEngineError(name, err)
	}

	if err := ctx.Err(); err != nil {
		return core.NewEngineError(name, err)
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	r.logger().Info("engine: running %s", name)
	args := append(append([]string(nil), r.Args...), cfgFile)
	cmd := exec.CommandContext(ctx, r.Binary, args...)
	cmd.Dir = r.WorkDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if rmErr := os.Remove(dbFile); rmErr != nil && !os.IsNotExist(rmErr) {
			r.logger().Warn("engine: could not remove stale %s: %v", dbFile, rmErr)
		}
		r.logger().Error("engine: %s failed: %v", name, err)
		return core.NewEngineError(name, fmt.Errorf("%v\n%s", err, tail(out.String(), outputTail)))
	}
	if !fileExists(dbFile) {
		return core.NewEngineError(name, fmt.Errorf("no result database %s written", dbFile))
	}

	if err := os.MkdirAll(r.cacheDir(), 0o755); err != nil {
		return core.NewEngineError(name, err)
	}
	if err := moveFile(dbFile, cachedDB); err != nil {
		return core.NewEngineError(name, err)
	}
	if err := copyFile(cfgFile, cachedCfg); err != nil {
		return core.NewEngineError(name, err)
	}
	r.logger().Debug("engine: %s done, result in %s", name, cachedDB)
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// moveFile renames src to dst, falling back to copy and delete across devices
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
