package worker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProfile = `
working_directory = "/srv/analysis"
lib_paths = ["/opt/rhost/library"]

[options]
digits = 7
editor = "vi"
`

func writeProfile(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.toml")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func TestLoadProfile(t *testing.T) {
	p, err := LoadProfile(writeProfile(t, testProfile))
	require.NoError(t, err)
	assert.Equal(t, "/srv/analysis", p.WorkingDirectory)
	assert.Equal(t, []string{"/opt/rhost/library"}, p.LibPaths)
	assert.Equal(t, "vi", p.Options["editor"])

	_, err = LoadProfile(writeProfile(t, "lib_paths = ["))
	assert.Error(t, err)

	_, err = LoadProfile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestProfileApplyKeepsExplicitOptions(t *testing.T) {
	p, err := LoadProfile(writeProfile(t, testProfile))
	require.NoError(t, err)

	opts := Options{
		WorkingDirectory: "/home/me",
		Settings:         map[string]any{"editor": "emacs"},
	}
	p.Apply(&opts)

	assert.Equal(t, "/home/me", opts.WorkingDirectory)
	assert.Equal(t, []string{"/opt/rhost/library"}, opts.LibPaths)
	assert.Equal(t, "emacs", opts.Settings["editor"])
	assert.EqualValues(t, 7, opts.Settings["digits"])
}

func TestProfileSettingsReachGetOption(t *testing.T) {
	p, err := LoadProfile(writeProfile(t, "[options]\ndigits = 7\n"))
	require.NoError(t, err)

	opts := Options{WorkingDirectory: t.TempDir()}
	p.Apply(&opts)
	h := newHarnessWith(t, opts)

	assert.Equal(t, "7", h.describe("getOption('digits')", nil).Repr)
}
