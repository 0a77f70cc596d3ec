package plugins

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/danmuck/courierd/internal/config"
	"github.com/danmuck/courierd/internal/pipeline"
)

// ManifestFileName is the optional per-directory plugin allow/deny list.
const ManifestFileName = "plugins.toml"

var (
	ErrNoHandleSymbol      = errors.New("plugins: plugin does not export Handle")
	ErrBadHandleSignature  = errors.New("plugins: Handle must be func(string, string) (string, error)")
	ErrPluginDirUnreadable = errors.New("plugins: plugin directory unreadable")
)

// handleFunc is the callable contract every plugin file must export:
// Handle(chatID, body string) (reply string, err error).
type handleFunc = func(string, string) (string, error)

// Loader turns a directory into a populated registry. The concrete yaegi
// loader is the production implementation; tests may substitute their own.
type Loader interface {
	Load(dir string) (*Registry, error)
}

// DirLoader interprets each *.go file in a directory with yaegi and registers
// the handlers it finds. Loading is fail-soft: a file that does not parse,
// does not export Handle, or exports the wrong signature is skipped and
// logged, and the remaining files still load.
type DirLoader struct{}

func (DirLoader) Load(dir string) (*Registry, error) {
	reg := NewRegistry()
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return reg, nil
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		log.Info().Str("dir", dir).Msg("plugins.DirLoader directory missing, no plugins loaded")
		return reg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPluginDirUnreadable, dir, err)
	}

	manifest := loadManifest(dir)

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".go") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		if !manifest.Allows(strings.TrimSuffix(name, ".go")) {
			log.Debug().Str("path", path).Msg("plugins.DirLoader excluded by manifest")
			continue
		}
		handler, err := loadFile(path)
		if err != nil {
			log.Warn().Str("path", path).Err(err).Msg("plugins.DirLoader skipped plugin")
			continue
		}
		if err := reg.Register(handler); err != nil {
			log.Warn().Str("path", path).Err(err).Msg("plugins.DirLoader skipped plugin")
			continue
		}
		log.Info().Str("name", handler.Name()).Str("path", path).Msg("plugins.DirLoader loaded plugin")
	}
	return reg, nil
}

func loadManifest(dir string) config.PluginManifest {
	path := filepath.Join(dir, ManifestFileName)
	manifest, err := config.LoadPluginManifest(path)
	if errors.Is(err, os.ErrNotExist) {
		return config.PluginManifest{}
	}
	if err != nil {
		log.Warn().Str("path", path).Err(err).Msg("plugins.DirLoader manifest unreadable, loading all plugins")
		return config.PluginManifest{}
	}
	return manifest
}

func loadFile(path string) (pipeline.Handler, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("plugins: load stdlib symbols: %w", err)
	}
	if _, err := i.Eval(wrapSource(string(src))); err != nil {
		return nil, fmt.Errorf("plugins: eval %s: %w", filepath.Base(path), err)
	}

	v, err := i.Eval("main.Handle")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoHandleSymbol, filepath.Base(path))
	}
	fn, ok := v.Interface().(handleFunc)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBadHandleSignature, filepath.Base(path))
	}

	name := strings.TrimSuffix(filepath.Base(path), ".go")
	return &scriptHandler{name: name, fn: fn}, nil
}

func wrapSource(src string) string {
	if strings.Contains(src, "package ") {
		return src
	}
	return "package main\n\n" + src
}

// scriptHandler adapts an interpreted Handle function to the pipeline
// handler contract.
type scriptHandler struct {
	name string
	fn   handleFunc
}

func (h *scriptHandler) Name() string {
	return h.name
}

func (h *scriptHandler) Handle(_ context.Context, msg pipeline.SanitizedMessage) (pipeline.Result, error) {
	reply, err := h.fn(msg.RemoteID, msg.Body)
	if err != nil {
		return pipeline.Result{}, err
	}
	return pipeline.Result{Reply: reply}, nil
}
