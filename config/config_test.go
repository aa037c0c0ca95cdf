package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDefaultsAreValid(t *testing.T) {
	s := Defaults()
	require.NoError(t, s.Validate())
	assert.Equal(t, []string{"rect"}, s.Strategies)
	assert.Equal(t, "ruined", s.Out)
	assert.Equal(t, "summary.csv", s.Summary)
	assert.Equal(t, 72.0, s.DPI)
}

func TestLoadFileAndApply(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "c.yml", `
strategies: [rect, image]
out: /tmp/out
dpi: 150
keep_going: true
stroke_color: "#ff0000"
exclude: ["**/drafts/**"]
`)
	fc, err := LoadFile(p)
	require.NoError(t, err)
	require.NotNil(t, fc.DPI)
	assert.Nil(t, fc.Summary)

	s := Defaults()
	s.Apply(fc)
	assert.Equal(t, []string{"rect", "image"}, s.Strategies)
	assert.Equal(t, "/tmp/out", s.Out)
	assert.Equal(t, "summary.csv", s.Summary, "unset fields keep their value")
	assert.Equal(t, 150.0, s.DPI)
	assert.True(t, s.KeepGoing)
	assert.Equal(t, "#ff0000", s.StrokeColor)
	assert.Equal(t, []string{"**/drafts/**"}, s.Exclude)
	assert.NoError(t, s.Validate())
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	p := writeFile(t, t.TempDir(), "bad.yml", "dpi: [not, a, number]\n")
	_, err = LoadFile(p)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestFindOrder(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	dir := t.TempDir()

	fc, path, err := Find("", dir)
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Nil(t, fc.Out)

	global := writeFile(t, xdg, "pdfruin/config.yml", "out: global\n")
	fc, path, err = Find("", dir)
	require.NoError(t, err)
	assert.Equal(t, global, path)
	assert.Equal(t, "global", *fc.Out)

	local := writeFile(t, dir, ".pdfruin.yaml", "out: local\n")
	fc, path, err = Find("", dir)
	require.NoError(t, err)
	assert.Equal(t, local, path)
	assert.Equal(t, "local", *fc.Out)

	explicit := writeFile(t, t.TempDir(), "mine.yml", "out: explicit\n")
	fc, path, err = Find(explicit, dir)
	require.NoError(t, err)
	assert.Equal(t, explicit, path)
	assert.Equal(t, "explicit", *fc.Out)

	_, _, err = Find(filepath.Join(dir, "missing.yml"), dir)
	assert.Error(t, err)
}

func TestFromEnv(t *testing.T) {
	env := map[string]string{
		"PDFRUIN_STRATEGIES":  "rect, annotation,",
		"PDFRUIN_DPI":         "96",
		"PDFRUIN_MIN_AVERAGE": "0.01",
		"PDFRUIN_KEEP_GOING":  "true",
		"PDFRUIN_LOG_LEVEL":   "debug",
	}
	fc, err := FromEnv(func(k string) string { return env[k] })
	require.NoError(t, err)
	assert.Equal(t, []string{"rect", "annotation"}, fc.Strategies)
	assert.Equal(t, 96.0, *fc.DPI)
	assert.Equal(t, 0.01, *fc.MinAverage)
	assert.True(t, *fc.KeepGoing)
	assert.Equal(t, "debug", *fc.LogLevel)
	assert.Nil(t, fc.Out)

	env["PDFRUIN_DPI"] = "lots"
	_, err = FromEnv(func(k string) string { return env[k] })
	assert.ErrorIs(t, err, ErrInvalid)

	env["PDFRUIN_DPI"] = "96"
	env["PDFRUIN_KEEP_GOING"] = "maybe"
	_, err = FromEnv(func(k string) string { return env[k] })
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"zero dpi", func(s *Settings) { s.DPI = 0 }},
		{"huge dpi", func(s *Settings) { s.DPI = 5000 }},
		{"negative minimum", func(s *Settings) { s.MinAverage = -1 }},
		{"minimum above one", func(s *Settings) { s.MinAverage = 2 }},
		{"log level", func(s *Settings) { s.LogLevel = "loud" }},
		{"short color", func(s *Settings) { s.StrokeColor = "#f00" }},
		{"bad color", func(s *Settings) { s.StrokeColor = "red" }},
		{"no strategies", func(s *Settings) { s.Strategies = nil }},
		{"no out", func(s *Settings) { s.Out = "" }},
		{"policy not js", func(s *Settings) { s.AnnotationPolicy = "policy.lua" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			tt.mutate(&s)
			assert.ErrorIs(t, s.Validate(), ErrInvalid)
		})
	}
}

func TestLoadLayers(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir := t.TempDir()
	writeFile(t, dir, ".pdfruin.yml", "dpi: 100\nout: fromfile\nsummary: file.csv\n")
	writeFile(t, dir, ".env", "PDFRUIN_SUMMARY=fromdotenv.csv\n")
	t.Setenv("PDFRUIN_OUT", "fromenv")
	t.Cleanup(func() { os.Unsetenv("PDFRUIN_SUMMARY") })

	s, path, err := Load("", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ".pdfruin.yml"), path)
	assert.Equal(t, 100.0, s.DPI)
	assert.Equal(t, "fromenv", s.Out)
	assert.Equal(t, "fromdotenv.csv", s.Summary)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir := t.TempDir()
	writeFile(t, dir, ".pdfruin.yml", "dpi: -3\n")
	_, _, err := Load("", dir)
	assert.ErrorIs(t, err, ErrInvalid)
}
