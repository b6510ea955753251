package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"

	"github.com/GriffinCanCode/playground/internal/infrastructure/fetch"
	"github.com/GriffinCanCode/playground/internal/session"
	"github.com/GriffinCanCode/playground/internal/shared/utils"
)

// Workspace is a playground loaded from a directory
type Workspace struct {
	Dir      string
	Manifest *Manifest
	Entry    string
	Files    map[string]string
}

// Load reads the manifest and every matching file of dir
func Load(ctx context.Context, dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	manifest, err := LoadManifest(abs)
	if err != nil {
		return nil, err
	}

	files, err := LoadFiles(ctx, abs, manifest)
	if err != nil {
		return nil, err
	}
	for _, name := range manifest.support() {
		delete(files, name)
	}

	entry, err := manifest.ResolveEntry(files)
	if err != nil {
		return nil, err
	}

	return &Workspace{Dir: abs, Manifest: manifest, Entry: entry, Files: files}, nil
}

// LoadFiles walks dir and returns the files the manifest matches, keyed by
// slash separated path relative to dir
func LoadFiles(ctx context.Context, dir string, manifest *Manifest) (map[string]string, error) {
	var (
		mu    sync.Mutex
		files = make(map[string]string)
	)

	err := walk(ctx, dir, dir, manifest, func(p, name string, d os.DirEntry) error {
		if d.IsDir() || !manifest.Matches(name) {
			return nil
		}

		code, err := readSource(p, name)
		if err != nil {
			return err
		}

		mu.Lock()
		files[name] = code
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load workspace files: %w", err)
	}

	if err := utils.ValidateFiles(files, true); err != nil {
		return nil, err
	}
	return files, nil
}

// ReadFile reads one workspace file if the manifest matches it
func (w *Workspace) ReadFile(name string) (string, bool, error) {
	if !w.Manifest.Matches(name) {
		return "", false, nil
	}
	code, err := readSource(filepath.Join(w.Dir, filepath.FromSlash(name)), name)
	if err != nil {
		return "", false, err
	}
	return code, true, nil
}

// Spec builds the session spec of the workspace, reading the prelude and
// vendor sources named by the manifest. Vendor URLs are passed through for
// the session manager to fetch.
func (w *Workspace) Spec() (session.Spec, error) {
	m := w.Manifest
	spec := session.Spec{
		Title:             m.Title,
		Entry:             w.Entry,
		Files:             w.Files,
		Display:           m.Display,
		StrictGenerations: m.StrictGenerations,
	}
	if spec.Title == "" {
		spec.Title = filepath.Base(w.Dir)
	}

	if m.Prelude != "" {
		prelude, err := os.ReadFile(w.path(m.Prelude))
		if err != nil {
			return spec, fmt.Errorf("failed to read prelude: %w", err)
		}
		spec.Prelude = string(prelude)
	}

	if len(m.Vendor) > 0 {
		spec.Vendor = make(map[string]string, len(m.Vendor))
		for name, file := range m.Vendor {
			if fetch.IsURL(file) {
				spec.Vendor[name] = file
				continue
			}
			code, err := os.ReadFile(w.path(file))
			if err != nil {
				return spec, fmt.Errorf("failed to read vendor module %s: %w", name, err)
			}
			spec.Vendor[name] = string(code)
		}
	}

	if m.TypeInfo != nil {
		spec.TypeInfo = &session.TypeInfoSpec{
			Enabled: m.TypeInfo.Enabled,
			Libs:    m.TypeInfo.Libs,
			Types:   m.TypeInfo.Types,
		}
	}

	return spec, nil
}

// AssetsDir returns the directory served behind asset URIs, if any
func (w *Workspace) AssetsDir() string {
	if w.Manifest.Assets == "" {
		return ""
	}
	return w.path(w.Manifest.Assets)
}

func (w *Workspace) path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(w.Dir, filepath.FromSlash(name))
}

// walk calls visit for every entry below start that is not inside an
// excluded directory. Names are relative to root. visit runs concurrently.
func walk(ctx context.Context, root, start string, manifest *Manifest, visit func(p, name string, d os.DirEntry) error) error {
	conf := fastwalk.Config{Follow: false}
	return fastwalk.Walk(&conf, start, func(p string, d os.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			return err
		}

		name, ok := relativeName(root, p)
		if !ok {
			return nil
		}
		if d.IsDir() && name != "." && excludedDir(manifest, name) {
			return fastwalk.SkipDir
		}
		return visit(p, name, d)
	})
}

func relativeName(dir, p string) (string, bool) {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// excludedDir reports whether the directory itself or anything directly
// inside it is excluded
func excludedDir(manifest *Manifest, name string) bool {
	for _, pattern := range manifest.Exclude {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, name+"/x"); ok {
			return true
		}
	}
	return false
}

func readSource(p, name string) (string, error) {
	info, err := os.Stat(p)
	if err != nil {
		return "", err
	}
	if info.Size() > utils.MaxFileSize {
		return "", fmt.Errorf("file %s size %d bytes exceeds maximum %d bytes", name, info.Size(), utils.MaxFileSize)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
