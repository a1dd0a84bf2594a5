package prompt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krishamaze/arin-bot-v2/pkg/config"
	"github.com/krishamaze/arin-bot-v2/pkg/models"
)

type fakeVersions struct {
	versions map[string]models.PromptVersion
	active   *models.PromptVersion
	calls    int
}

func (f *fakeVersions) PromptVersion(_ context.Context, name, version string) (*models.PromptVersion, error) {
	f.calls++
	if v, ok := f.versions[name+"@"+version]; ok {
		return &v, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeVersions) ActivePrompt(_ context.Context, name string) (*models.PromptVersion, error) {
	f.calls++
	if f.active != nil && f.active.Name == name {
		return f.active, nil
	}
	return nil, errors.New("not found")
}

func writePromptFile(t *testing.T, path, version, wingman string) {
	t.Helper()
	body := "version: \"" + version + "\"\nprompts:\n  wingman: \"" + wingman + "\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestInlineDefaults(t *testing.T) {
	l := NewLoader(config.PromptConfig{Source: SourceInline}, nil, nil)

	p := l.Load(context.Background(), Wingman)
	assert.Equal(t, SourceInline, p.Source)
	assert.Equal(t, DefaultVersion, p.Version)
	assert.Equal(t, Default(Wingman), p.Content)
	assert.NotEmpty(t, Default(Chat))
	assert.Empty(t, Default("unknown"))
}

func TestInlineOverride(t *testing.T) {
	l := NewLoader(config.PromptConfig{
		Source:  SourceInline,
		Version: "custom-1",
		Inline:  map[string]string{Chat: "be brief"},
	}, nil, nil)

	p := l.Load(context.Background(), Chat)
	assert.Equal(t, "be brief", p.Content)
	assert.Equal(t, "custom-1", p.Version)
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	writePromptFile(t, path, "3.0.0", "from file")

	l := NewLoader(config.PromptConfig{Source: SourceFile, File: path}, nil, nil)

	p := l.Load(context.Background(), Wingman)
	assert.Equal(t, Prompt{Name: Wingman, Version: "3.0.0", Content: "from file", Source: SourceFile}, p)

	// chat is not in the file
	c := l.Load(context.Background(), Chat)
	assert.Equal(t, SourceInline, c.Source)
}

func TestFileMissingFallsBack(t *testing.T) {
	l := NewLoader(config.PromptConfig{Source: SourceFile, File: filepath.Join(t.TempDir(), "nope.yaml")}, nil, nil)
	assert.Equal(t, SourceInline, l.Load(context.Background(), Wingman).Source)
}

func TestReadFileRequiresVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("prompts:\n  wingman: x\n"), 0o644))

	_, err := ReadFile(path)
	assert.Error(t, err)
}

func TestDatabaseSource(t *testing.T) {
	db := &fakeVersions{
		versions: map[string]models.PromptVersion{
			"wingman@2.2.0": {Name: Wingman, Version: "2.2.0", Content: "pinned"},
		},
		active: &models.PromptVersion{Name: Wingman, Version: "2.3.0", Content: "active"},
	}

	pinned := NewLoader(config.PromptConfig{Source: SourceDatabase, Version: "2.2.0"}, db, nil)
	p := pinned.Load(context.Background(), Wingman)
	assert.Equal(t, "pinned", p.Content)
	assert.Equal(t, SourceDatabase, p.Source)

	missing := NewLoader(config.PromptConfig{Source: SourceDatabase, Version: "9.9.9"}, db, nil)
	assert.Equal(t, "active", missing.Load(context.Background(), Wingman).Content)

	none := NewLoader(config.PromptConfig{Source: SourceDatabase}, db, nil)
	assert.Equal(t, SourceInline, none.Load(context.Background(), Chat).Source)

	nodb := NewLoader(config.PromptConfig{Source: SourceDatabase}, nil, nil)
	assert.Equal(t, SourceInline, nodb.Load(context.Background(), Wingman).Source)
}

func TestCacheTTL(t *testing.T) {
	db := &fakeVersions{active: &models.PromptVersion{Name: Wingman, Version: "1", Content: "a"}}
	l := NewLoader(config.PromptConfig{Source: SourceDatabase, CacheTTL: time.Minute}, db, nil)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Load(context.Background(), Wingman)
	l.Load(context.Background(), Wingman)
	assert.Equal(t, 1, db.calls)

	now = now.Add(61 * time.Second)
	l.Load(context.Background(), Wingman)
	assert.Equal(t, 2, db.calls)

	l.Clear()
	l.Load(context.Background(), Wingman)
	assert.Equal(t, 3, db.calls)
}

func TestWatchClearsCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	writePromptFile(t, path, "1.0.0", "old")

	l := NewLoader(config.PromptConfig{Source: SourceFile, File: path, CacheTTL: time.Hour}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, l.Watch(ctx))

	require.Equal(t, "old", l.Load(ctx, Wingman).Content)

	writePromptFile(t, path, "1.0.1", "new")
	assert.Eventually(t, func() bool {
		return l.Load(ctx, Wingman).Content == "new"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatchWithoutFile(t *testing.T) {
	l := NewLoader(config.PromptConfig{Source: SourceInline}, nil, nil)
	assert.Error(t, l.Watch(context.Background()))
}
