// Package config loads run settings from YAML files, the environment and
// .env files. Command line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every rejected setting.
var ErrInvalid = errors.New("invalid configuration")

// ErrNotFound is returned by the lookup helpers when no file exists.
var ErrNotFound = errors.New("no config file")

// EnvPrefix prefixes the environment overrides, e.g. PDFRUIN_DPI.
const EnvPrefix = "PDFRUIN_"

// FileConfig is the on-disk YAML shape. Nil fields are unset.
type FileConfig struct {
	Strategies       []string `yaml:"strategies"`
	Out              *string  `yaml:"out"`
	Summary          *string  `yaml:"summary"`
	Report           *string  `yaml:"report"`
	Include          []string `yaml:"include"`
	Exclude          []string `yaml:"exclude"`
	DPI              *float64 `yaml:"dpi"`
	MinAverage       *float64 `yaml:"min_average"`
	KeepGoing        *bool    `yaml:"keep_going"`
	LogLevel         *string  `yaml:"log_level"`
	Password         *string  `yaml:"password"`
	AnnotationPolicy *string  `yaml:"annotation_policy"`
	StrokeColor      *string  `yaml:"stroke_color"`
}

// Settings are the merged values a run uses.
type Settings struct {
	Strategies       []string `validate:"min=1"`
	Out              string   `validate:"required"`
	Summary          string   `validate:"required"`
	Report           string
	Include          []string
	Exclude          []string
	DPI              float64 `validate:"gt=0,lte=1200"`
	MinAverage       float64 `validate:"gte=0,lte=1"`
	KeepGoing        bool
	LogLevel         string `validate:"oneof=debug info warn error"`
	Password         string
	AnnotationPolicy string `validate:"omitempty,endswith=.js"`
	StrokeColor      string `validate:"omitempty,hexcolor,len=7"`
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		Strategies: []string{"rect"},
		Out:        "ruined",
		Summary:    "summary.csv",
		DPI:        72,
		MinAverage: 0.0001,
		LogLevel:   "info",
	}
}

// LoadFile reads a YAML config file.
func LoadFile(path string) (FileConfig, error) {
	var cfg FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
	}
	return cfg, nil
}

// LoadLocal looks for .pdfruin.yml or .pdfruin.yaml in dir.
func LoadLocal(dir string) (FileConfig, string, error) {
	for _, name := range []string{".pdfruin.yml", ".pdfruin.yaml"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			cfg, err := LoadFile(p)
			return cfg, p, err
		}
	}
	return FileConfig{}, "", ErrNotFound
}

// LoadGlobal loads pdfruin/config.yml from the XDG config directory or
// ~/.config.
func LoadGlobal() (FileConfig, string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		if home != "" {
			base = filepath.Join(home, ".config")
		}
	}
	if base == "" {
		return FileConfig{}, "", ErrNotFound
	}
	p := filepath.Join(base, "pdfruin", "config.yml")
	if _, err := os.Stat(p); err != nil {
		return FileConfig{}, "", ErrNotFound
	}
	cfg, err := LoadFile(p)
	return cfg, p, err
}

// Find returns the config at explicit when it is set, else the local file
// in dir, else the global one. A missing explicit file is an error; missing
// implicit files yield an empty config and an empty path.
func Find(explicit, dir string) (FileConfig, string, error) {
	if explicit != "" {
		cfg, err := LoadFile(explicit)
		return cfg, explicit, err
	}
	cfg, p, err := LoadLocal(dir)
	if !errors.Is(err, ErrNotFound) {
		return cfg, p, err
	}
	cfg, p, err = LoadGlobal()
	if errors.Is(err, ErrNotFound) {
		return FileConfig{}, "", nil
	}
	return cfg, p, err
}

// Apply overlays the set fields of fc.
func (s *Settings) Apply(fc FileConfig) {
	if len(fc.Strategies) > 0 {
		s.Strategies = append([]string(nil), fc.Strategies...)
	}
	setString(&s.Out, fc.Out)
	setString(&s.Summary, fc.Summary)
	setString(&s.Report, fc.Report)
	if len(fc.Include) > 0 {
		s.Include = append([]string(nil), fc.Include...)
	}
	if len(fc.Exclude) > 0 {
		s.Exclude = append([]string(nil), fc.Exclude...)
	}
	if fc.DPI != nil {
		s.DPI = *fc.DPI
	}
	if fc.MinAverage != nil {
		s.MinAverage = *fc.MinAverage
	}
	if fc.KeepGoing != nil {
		s.KeepGoing = *fc.KeepGoing
	}
	setString(&s.LogLevel, fc.LogLevel)
	setString(&s.Password, fc.Password)
	setString(&s.AnnotationPolicy, fc.AnnotationPolicy)
	setString(&s.StrokeColor, fc.StrokeColor)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// LoadDotEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// FromEnv builds a FileConfig from PDFRUIN_* variables looked up with
// getenv. List values are comma separated.
func FromEnv(getenv func(string) string) (FileConfig, error) {
	var fc FileConfig
	str := func(key string) *string {
		if v := getenv(EnvPrefix + key); v != "" {
			return &v
		}
		return nil
	}
	list := func(key string) []string {
		v := getenv(EnvPrefix + key)
		if v == "" {
			return nil
		}
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	float := func(key string) (*float64, error) {
		v := str(key)
		if v == nil {
			return nil, nil
		}
		f, err := strconv.ParseFloat(*v, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s%s=%q", ErrInvalid, EnvPrefix, key, *v)
		}
		return &f, nil
	}

	fc.Strategies = list("STRATEGIES")
	fc.Out = str("OUT")
	fc.Summary = str("SUMMARY")
	fc.Report = str("REPORT")
	fc.Include = list("INCLUDE")
	fc.Exclude = list("EXCLUDE")
	fc.LogLevel = str("LOG_LEVEL")
	fc.Password = str("PASSWORD")
	fc.AnnotationPolicy = str("POLICY")
	fc.StrokeColor = str("COLOR")
	var err error
	if fc.DPI, err = float("DPI"); err != nil {
		return fc, err
	}
	if fc.MinAverage, err = float("MIN_AVERAGE"); err != nil {
		return fc, err
	}
	if v := str("KEEP_GOING"); v != nil {
		b, err := strconv.ParseBool(*v)
		if err != nil {
			return fc, fmt.Errorf("%w: %sKEEP_GOING=%q", ErrInvalid, EnvPrefix, *v)
		}
		fc.KeepGoing = &b
	}
	return fc, nil
}

var validate = validator.New()

// Validate checks value ranges. Strategy names are checked by the strategy
// package when the set is built.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", strings.ToLower(fe.Field()), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Load merges defaults, the config file, .env files and PDFRUIN_*
// variables, in that order, and validates the result. It returns the path
// of the config file used, if any.
func Load(explicit, dir string) (Settings, string, error) {
	s := Defaults()
	fc, path, err := Find(explicit, dir)
	if err != nil {
		return s, path, err
	}
	s.Apply(fc)
	if err := LoadDotEnv(filepath.Join(dir, ".env")); err != nil {
		return s, path, err
	}
	env, err := FromEnv(os.Getenv)
	if err != nil {
		return s, path, err
	}
	s.Apply(env)
	return s, path, s.Validate()
}
