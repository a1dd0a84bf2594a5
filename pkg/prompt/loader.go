// Package prompt loads versioned system prompts from the database, a YAML
// file or the built-in defaults, caching each for a short TTL.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/krishamaze/arin-bot-v2/pkg/config"
	"github.com/krishamaze/arin-bot-v2/pkg/models"
)

// Prompt sources.
const (
	SourceDatabase = "database"
	SourceFile     = "file"
	SourceInline   = "inline"
)

// Prompt names.
const (
	Wingman = "wingman"
	Chat    = "chat"
)

// Prompt is a resolved system prompt.
type Prompt struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Content string `json:"content"`
	Source  string `json:"source"`
}

// Versions reads stored prompt revisions. *store.SQLStore implements it.
type Versions interface {
	PromptVersion(ctx context.Context, name, version string) (*models.PromptVersion, error)
	ActivePrompt(ctx context.Context, name string) (*models.PromptVersion, error)
}

// File is the on-disk prompt document.
type File struct {
	Version string            `yaml:"version"`
	Prompts map[string]string `yaml:"prompts"`
}

type entry struct {
	prompt  Prompt
	fetched time.Time
}

// Loader resolves prompts. Load never fails: when the configured source has
// nothing the inline prompt is used.
type Loader struct {
	cfg   config.PromptConfig
	db    Versions
	log   *zap.Logger
	now   func() time.Time
	mu    sync.Mutex
	cache map[string]entry
}

// NewLoader creates a Loader. db may be nil unless the source is database.
func NewLoader(cfg config.PromptConfig, db Versions, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{
		cfg:   cfg,
		db:    db,
		log:   log.Named("prompt"),
		now:   time.Now,
		cache: make(map[string]entry),
	}
}

// Load returns the named prompt from the first source that has it.
func (l *Loader) Load(ctx context.Context, name string) Prompt {
	l.mu.Lock()
	e, ok := l.cache[name]
	l.mu.Unlock()
	if ok && l.now().Sub(e.fetched) < l.cfg.CacheTTL {
		return e.prompt
	}

	p := l.resolve(ctx, name)

	l.mu.Lock()
	l.cache[name] = entry{prompt: p, fetched: l.now()}
	l.mu.Unlock()
	return p
}

func (l *Loader) resolve(ctx context.Context, name string) Prompt {
	log := l.log.With(zap.String("prompt", name), zap.String("source", l.cfg.Source))

	switch l.cfg.Source {
	case SourceDatabase:
		p, err := l.fromDatabase(ctx, name)
		if err == nil {
			return p
		}
		log.Warn("database prompt unavailable, using inline", zap.Error(err))
	case SourceFile:
		p, err := l.fromFile(name)
		if err == nil {
			return p
		}
		log.Warn("file prompt unavailable, using inline", zap.String("file", l.cfg.File), zap.Error(err))
	}
	return l.inline(name)
}

func (l *Loader) fromDatabase(ctx context.Context, name string) (Prompt, error) {
	if l.db == nil {
		return Prompt{}, errors.New("no prompt database")
	}
	var v *models.PromptVersion
	var err error
	if l.cfg.Version != "" {
		v, err = l.db.PromptVersion(ctx, name, l.cfg.Version)
	}
	if v == nil {
		v, err = l.db.ActivePrompt(ctx, name)
	}
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{Name: name, Version: v.Version, Content: v.Content, Source: SourceDatabase}, nil
}

func (l *Loader) fromFile(name string) (Prompt, error) {
	f, err := ReadFile(l.cfg.File)
	if err != nil {
		return Prompt{}, err
	}
	content := f.Prompts[name]
	if content == "" {
		return Prompt{}, fmt.Errorf("prompt %q missing from %s", name, l.cfg.File)
	}
	return Prompt{Name: name, Version: f.Version, Content: content, Source: SourceFile}, nil
}

func (l *Loader) inline(name string) Prompt {
	content := l.cfg.Inline[name]
	if content == "" {
		content = Default(name)
	}
	version := l.cfg.Version
	if version == "" {
		version = DefaultVersion
	}
	return Prompt{Name: name, Version: version, Content: content, Source: SourceInline}
}

// ReadFile parses a prompt document. Version and at least one prompt are
// required.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return nil, fmt.Errorf("parse prompt file: %w", err)
	}
	if f.Version == "" || len(f.Prompts) == 0 {
		return nil, fmt.Errorf("prompt file %s: missing version or prompts", path)
	}
	return &f, nil
}

// Clear drops every cached prompt.
func (l *Loader) Clear() {
	l.mu.Lock()
	clear(l.cache)
	l.mu.Unlock()
}

// Watch clears the cache whenever the prompt file changes, until ctx is
// done. It watches the parent directory so editors that replace the file
// are noticed.
func (l *Loader) Watch(ctx context.Context) error {
	if l.cfg.File == "" {
		return errors.New("no prompt file to watch")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create prompt watcher: %w", err)
	}
	target := filepath.Clean(l.cfg.File)
	if err := w.Add(filepath.Dir(target)); err != nil {
		w.Close()
		return fmt.Errorf("watch prompt dir: %w", err)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					l.log.Info("prompt file changed", zap.String("file", ev.Name), zap.String("op", ev.Op.String()))
					l.Clear()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.log.Warn("prompt watcher error", zap.Error(err))
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
