package i18n

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vox-ai-tgbot-go/internal/config"
)

func writeBundle(t *testing.T, dir, lang, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, lang+".json"), []byte(content), 0644))
}

func newTestLocalizer(t *testing.T, defaultLang string, langs []string) *Localizer {
	t.Helper()
	dir := t.TempDir()
	for _, lang := range langs {
		writeBundle(t, dir, lang, `{"ok": "OK-`+lang+`", "greeting": "Hello {{.Name}}"}`)
	}

	l, err := NewLocalizer(&config.I18nConfig{
		DefaultLanguage: defaultLang,
		Languages:       langs,
		Directory:       dir,
	})
	require.NoError(t, err)
	return l
}

func TestGetLocalizedMessage(t *testing.T) {
	l := newTestLocalizer(t, "en", []string{"en", "ru"})

	assert.Equal(t, "OK-en", l.Get("en", "ok", nil))
	assert.Equal(t, "OK-ru", l.Get("ru", "ok", nil))
	assert.Equal(t, "Hello Ada", l.Get("en", "greeting", map[string]interface{}{"Name": "Ada"}))
}

func TestGetFallsBackToDefaultLanguage(t *testing.T) {
	l := newTestLocalizer(t, "en", []string{"en"})

	assert.Equal(t, "OK-en", l.Get("de", "ok", nil))
}

func TestGetFallsBackToMessageID(t *testing.T) {
	l := newTestLocalizer(t, "en", []string{"en"})

	assert.Equal(t, "missing_message", l.Get("en", "missing_message", nil))
}

func TestGetUnknownDefaultDoesNotPanic(t *testing.T) {
	// A default language with no loaded bundle must degrade to the message
	// id, not dereference a nil localizer
	l := newTestLocalizer(t, "fr", []string{"en"})

	assert.Equal(t, "ok", l.Get("de", "ok", nil))
}

func TestHasAndLanguages(t *testing.T) {
	l := newTestLocalizer(t, "en", []string{"en", "ru"})

	assert.True(t, l.Has("en"))
	assert.True(t, l.Has("ru"))
	assert.False(t, l.Has("de"))
	assert.ElementsMatch(t, []string{"en", "ru"}, l.Languages())
}
