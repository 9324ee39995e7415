// Package manifest loads and validates widget manifests. A manifest.yaml
// describes one widget: its identity, whether it runs in-process or in a
// worker process, and optional throttle and sizing hints for the host.
package manifest

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hearthboard/hearth/internal/updates"
)

// ExecutionMode selects where a widget's code runs.
type ExecutionMode string

const (
	// ExecutionInProcess runs the widget inside the host process. The
	// widget ID must be registered in the host's built-in registry.
	ExecutionInProcess ExecutionMode = "inprocess"
	// ExecutionProcess runs the widget in its own worker process under
	// the supervisor.
	ExecutionProcess ExecutionMode = "process"
)

func (m ExecutionMode) valid() bool {
	return m == ExecutionInProcess || m == ExecutionProcess
}

// WorkerSpec points at the worker binary for process-mode widgets.
type WorkerSpec struct {
	// Bin is the worker executable, relative to the manifest directory.
	Bin string `yaml:"bin"`
	// Checksum is an optional BLAKE3 hex digest of the binary. When set,
	// discovery refuses widgets whose binary does not match.
	Checksum string `yaml:"checksum,omitempty"`
}

// ThrottleSpec overrides the host's default update throttle.
type ThrottleSpec struct {
	MinIntervalMS    int `yaml:"min_interval_ms,omitempty"`
	MaxPending       int `yaml:"max_pending,omitempty"`
	CoalesceWindowMS int `yaml:"coalesce_window_ms,omitempty"`
}

// Config converts the spec to a scheduler throttle, filling unset fields
// from the defaults.
func (t *ThrottleSpec) Config() updates.ThrottleConfig {
	cfg := updates.DefaultThrottleConfig()
	if t == nil {
		return cfg
	}
	if t.MinIntervalMS > 0 {
		cfg.MinInterval = time.Duration(t.MinIntervalMS) * time.Millisecond
	}
	if t.MaxPending > 0 {
		cfg.MaxPending = t.MaxPending
	}
	if t.CoalesceWindowMS > 0 {
		cfg.CoalesceWindow = time.Duration(t.CoalesceWindowMS) * time.Millisecond
	}
	return cfg
}

// SizeSpec is the widget's preferred tile size in pixels.
type SizeSpec struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Manifest is the parsed form of a widget's manifest.yaml.
type Manifest struct {
	ID          string        `yaml:"id"`
	Name        string        `yaml:"name"`
	Version     string        `yaml:"version"`
	Description string        `yaml:"description,omitempty"`
	Author      string        `yaml:"author,omitempty"`
	Execution   ExecutionMode `yaml:"execution,omitempty"`
	Worker      *WorkerSpec   `yaml:"worker,omitempty"`
	Throttle    *ThrottleSpec `yaml:"throttle,omitempty"`
	Size        *SizeSpec     `yaml:"size,omitempty"`
}

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// validate checks required fields and fills the execution default: a
// manifest with a worker block is a process widget, otherwise in-process.
func validate(m *Manifest) error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if !idPattern.MatchString(m.ID) {
		return fmt.Errorf("invalid id %q (lowercase letters, digits, - and _ only)", m.ID)
	}
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(m.Version) == "" {
		return fmt.Errorf("version is required")
	}

	if m.Execution == "" {
		if m.Worker != nil {
			m.Execution = ExecutionProcess
		} else {
			m.Execution = ExecutionInProcess
		}
	}
	if !m.Execution.valid() {
		return fmt.Errorf("invalid execution mode %q (valid: inprocess, process)", m.Execution)
	}

	switch m.Execution {
	case ExecutionProcess:
		if m.Worker == nil || strings.TrimSpace(m.Worker.Bin) == "" {
			return fmt.Errorf("process widgets require worker.bin")
		}
		if strings.Contains(m.Worker.Bin, "..") {
			return fmt.Errorf("worker.bin contains path traversal: %s", m.Worker.Bin)
		}
	case ExecutionInProcess:
		if m.Worker != nil {
			return fmt.Errorf("inprocess widgets must not declare a worker")
		}
	}

	if m.Size != nil && (m.Size.Width <= 0 || m.Size.Height <= 0) {
		return fmt.Errorf("size must be positive, got %dx%d", m.Size.Width, m.Size.Height)
	}

	return nil
}
