package manifest

import (
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/hearthboard/hearth/internal/log"
)

const manifestFilename = "manifest.yaml"

// Widget is a discovered and validated widget definition.
type Widget struct {
	ID          string
	Name        string
	Version     string
	Description string
	Author      string
	Execution   ExecutionMode
	// Path is the absolute manifest directory.
	Path string
	// WorkerBin is the absolute worker executable path. Empty for
	// in-process widgets.
	WorkerBin string
	Throttle  *ThrottleSpec
	Size      *SizeSpec
}

// Registry holds discovered widgets indexed by ID.
type Registry struct {
	widgets map[string]*Widget
}

// NewRegistry creates an empty widget registry.
func NewRegistry() *Registry {
	return &Registry{widgets: make(map[string]*Widget)}
}

// Get retrieves a widget by ID.
func (r *Registry) Get(id string) (*Widget, bool) {
	w, ok := r.widgets[id]
	return w, ok
}

// Add registers a widget. IDs must be unique.
func (r *Registry) Add(w *Widget) error {
	if _, exists := r.widgets[w.ID]; exists {
		return fmt.Errorf("widget %q already registered", w.ID)
	}
	r.widgets[w.ID] = w
	return nil
}

// All returns every registered widget sorted by ID.
func (r *Registry) All() []*Widget {
	out := make([]*Widget, 0, len(r.widgets))
	for _, w := range r.widgets {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Discover scans a single widget root. See DiscoverMany.
func Discover(root string) (*Registry, error) {
	return DiscoverMany([]string{root})
}

// DiscoverMany scans widget roots for manifest.yaml files. Roots are
// processed in input order and duplicate widget IDs keep the first
// discovered definition. Invalid manifests are logged, not fatal.
func DiscoverMany(roots []string) (*Registry, error) {
	logger := log.WithComponent("manifest")

	absRoots := make([]string, 0, len(roots))
	seen := make(map[string]struct{}, len(roots))
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve widget root %q: %w", root, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("stat widget root %s: %w", abs, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("widget root is not a directory: %s", abs)
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		absRoots = append(absRoots, abs)
	}
	if len(absRoots) == 0 {
		return nil, fmt.Errorf("at least one widget root is required")
	}

	registry := NewRegistry()
	for _, root := range absRoots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || d.Name() != manifestFilename {
				return nil
			}

			w, err := load(filepath.Dir(path))
			if err != nil {
				logger.Warn("skipping widget", "path", filepath.Dir(path), "error", err)
				return nil
			}
			if err := registry.Add(w); err != nil {
				existing, _ := registry.Get(w.ID)
				logger.Warn("duplicate widget ignored, keeping first discovered",
					"widget_id", w.ID, "ignored_path", w.Path, "kept_path", existing.Path)
				return nil
			}
			logger.Info("discovered widget",
				"widget_id", w.ID, "version", w.Version, "execution", w.Execution, "path", w.Path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan widget root %s: %w", root, err)
		}
	}

	return registry, nil
}

// load reads and validates one widget directory.
func load(dir string) (*Widget, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFilename))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := validate(&m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	w := &Widget{
		ID:          m.ID,
		Name:        m.Name,
		Version:     m.Version,
		Description: m.Description,
		Author:      m.Author,
		Execution:   m.Execution,
		Path:        dir,
		Throttle:    m.Throttle,
		Size:        m.Size,
	}

	if m.Execution == ExecutionProcess {
		bin := filepath.Join(dir, m.Worker.Bin)
		info, err := os.Stat(bin)
		if err != nil {
			return nil, fmt.Errorf("worker binary: %w", err)
		}
		if info.Mode()&0111 == 0 {
			return nil, fmt.Errorf("worker binary is not executable: %s", bin)
		}
		if m.Worker.Checksum != "" {
			if err := VerifyChecksum(bin, m.Worker.Checksum); err != nil {
				return nil, err
			}
		}
		w.WorkerBin = bin
	}

	return w, nil
}

// ComputeChecksum returns the BLAKE3 hex digest of a file.
func ComputeChecksum(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyChecksum compares a file against an expected BLAKE3 digest.
func VerifyChecksum(path, expected string) error {
	actual, err := ComputeChecksum(path)
	if err != nil {
		return fmt.Errorf("compute checksum: %w", err)
	}
	if !strings.EqualFold(actual, expected) {
		return fmt.Errorf("checksum mismatch for %s: expected %s, got %s",
			filepath.Base(path), expected, actual)
	}
	return nil
}
