// Package checkpoint persists the run's step counter next to the output and
// delegates full state persistence to the backend, when it supports it.
//
// The two writes are issued back to back but are not atomic as a pair: a
// process killed between them leaves a step marker newer than the backend
// state. Only the marker itself is replaced atomically (temp file + rename).
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/san-kum/stepsim/internal/backend"
	"github.com/san-kum/stepsim/internal/logger"
	"github.com/san-kum/stepsim/internal/logger/tag"
)

const (
	stepSuffix      = ".chk.step"
	filePermissions = 0o644
)

// ErrCorrupt is returned when the step marker cannot be parsed.
var ErrCorrupt = errors.New("checkpoint: corrupt step marker")

// StepPath returns the step marker location for an output path.
func StepPath(outputPath string) string {
	return outputPath + stepSuffix
}

type Manager struct {
	outputPath string
	log        logger.Logger
}

func New(outputPath string, log logger.Logger) *Manager {
	if log == nil {
		log = logger.Discard()
	}
	return &Manager{outputPath: outputPath, log: log}
}

// Path returns the step marker location, or "" without an output path.
func (m *Manager) Path() string {
	if m.outputPath == "" {
		return ""
	}
	return StepPath(m.outputPath)
}

// Write persists step, then lets b save its own state if it can.
func (m *Manager) Write(ctx context.Context, b backend.Backend, step int) error {
	if path := m.Path(); path != "" {
		if err := WriteFileAtomic(path, []byte(strconv.Itoa(step))); err != nil {
			return fmt.Errorf("checkpoint: write step marker: %w", err)
		}
		m.log.Debug("step marker written", tag.File(path), tag.Step(step))
	}

	cp, ok := b.(backend.Checkpointer)
	if !ok {
		return nil
	}
	if err := cp.WriteCheckpoint(ctx); err != nil {
		return fmt.Errorf("checkpoint: backend write: %w", err)
	}
	return nil
}

// Read returns the persisted step and restores backend state if b can.
// found is false when there is no output path or no marker on disk; the
// backend hook is not invoked in that case.
func (m *Manager) Read(ctx context.Context, b backend.Backend) (step int, found bool, err error) {
	path := m.Path()
	if path == "" {
		return 0, false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("checkpoint: read step marker: %w", err)
	}

	step, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || step < 0 {
		return 0, false, fmt.Errorf("%w: %s: %q", ErrCorrupt, path, data)
	}

	if cp, ok := b.(backend.Checkpointer); ok {
		if err := cp.ReadCheckpoint(ctx); err != nil {
			return 0, false, fmt.Errorf("checkpoint: backend read: %w", err)
		}
	}
	m.log.Debug("step marker read", tag.File(path), tag.Step(step))
	return step, true, nil
}

// WriteFileAtomic replaces path with data through a temp file and a rename.
func WriteFileAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, filePermissions); err != nil {
		return err
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return err
	}
	return nil
}
