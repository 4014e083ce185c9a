// Package settings holds the rescheduling policy: the allowed window, the tracked
// recurrences, excluded hooks and the frequency flags.
//
// Values are layered with viper: built-in defaults, then the settings file, then
// environment variables (CRONTROL_HOURS_<NAME>). A value coming from the environment
// wins and cannot be changed through Set.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"crontrolhours/internal/eventbus"
	logx "crontrolhours/pkg/logx"

	"github.com/spf13/viper"
)

const DefaultEnvPrefix = "CRONTROL_HOURS"

var (
	ErrUnknownKey   = errors.New("unknown setting")
	ErrOverridden   = errors.New("setting is overridden by the environment")
	ErrInvalidValue = errors.New("invalid setting value")
)

// Source reports which layer a value came from.
type Source int

const (
	SourceDefault Source = iota
	SourceFile
	SourceEnv
)

func (s Source) String() string {
	switch s {
	case SourceDefault:
		return "default"
	case SourceFile:
		return "file"
	case SourceEnv:
		return "env"
	default:
		return "unknown"
	}
}

func (s Source) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Source) UnmarshalText(b []byte) error {
	switch string(b) {
	case "default":
		*s = SourceDefault
	case "file":
		*s = SourceFile
	case "env":
		*s = SourceEnv
	default:
		return fmt.Errorf("unknown setting source %q", b)
	}
	return nil
}

// Entry is one resolved setting.
type Entry struct {
	Name        string `json:"name"`
	Value       string `json:"value"`
	Source      Source `json:"source"`
	Default     string `json:"default"`
	Description string `json:"description"`
}

// Change describes a committed update of an effective value.
type Change struct {
	Name string `json:"name"`
	Old  string `json:"old"`
	New  string `json:"new"`
}

type Options struct {
	// Path of the YAML settings file. Empty keeps file-layer values in memory only.
	Path      string
	EnvPrefix string
	Logger    logx.Logger
	Bus       eventbus.Bus
}

// Store resolves settings and persists changes to the settings file.
type Store struct {
	path   string
	prefix string
	log    logx.Logger
	bus    eventbus.Bus

	mu       sync.RWMutex
	v        *viper.Viper
	fileVals map[string]string

	obsMu     sync.Mutex
	observers []func(Change)
}

// Open loads the settings file (a missing file is an empty layer).
func Open(opts Options) (*Store, error) {
	prefix := strings.TrimSpace(opts.EnvPrefix)
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	log := opts.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{
		path:   strings.TrimSpace(opts.Path),
		prefix: strings.ToUpper(prefix),
		log:    log,
		bus:    opts.Bus,
	}
	vals, err := s.readFile()
	if err != nil {
		return nil, err
	}
	s.fileVals = vals
	s.v = s.build(vals)
	return s, nil
}

// NewMemory returns a store without a settings file.
func NewMemory() *Store {
	s, _ := Open(Options{})
	return s
}

func (s *Store) Path() string { return s.path }

// OnChange registers fn to run synchronously after every committed change.
func (s *Store) OnChange(fn func(Change)) {
	if fn == nil {
		return
	}
	s.obsMu.Lock()
	s.observers = append(s.observers, fn)
	s.obsMu.Unlock()
}

func (s *Store) build(fileVals map[string]string) *viper.Viper {
	v := viper.New()
	for _, d := range definitions {
		v.SetDefault(d.Name, d.Default)
	}
	v.SetEnvPrefix(s.prefix)
	v.AutomaticEnv()
	if len(fileVals) > 0 {
		m := make(map[string]any, len(fileVals))
		for k, val := range fileVals {
			m[k] = val
		}
		_ = v.MergeConfigMap(m)
	}
	return v
}

func (s *Store) readFile() (map[string]string, error) {
	out := map[string]string{}
	if s.path == "" {
		return out, nil
	}
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	r := viper.New()
	r.SetConfigFile(s.path)
	r.SetConfigType("yaml")
	if err := r.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read settings %s: %w", s.path, err)
	}
	for _, k := range r.AllKeys() {
		d, ok := lookupDefinition(k)
		if !ok {
			s.log.Warn("ignoring unknown setting in file", logx.String("path", s.path), logx.String("name", k))
			continue
		}
		out[d.Name] = d.normalize(r.GetString(k))
	}
	return out, nil
}

func (s *Store) writeFile(vals map[string]string) error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	w := viper.New()
	w.SetConfigType("yaml")
	for k, val := range vals {
		w.Set(k, val)
	}
	ext := filepath.Ext(s.path)
	if ext == "" {
		ext = ".yaml"
	}
	tmp := strings.TrimSuffix(s.path, filepath.Ext(s.path)) + ".tmp" + ext
	if err := w.WriteConfigAs(tmp); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) envValue(name string) (string, bool) {
	v, ok := os.LookupEnv(s.prefix + "_" + strings.ToUpper(name))
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Get returns the effective value of name, or "" for unknown names.
func (s *Store) Get(name string) string {
	v, _ := s.Lookup(name)
	return v
}

// Lookup returns the effective value of name and the layer it came from.
func (s *Store) Lookup(name string) (string, Source) {
	d, ok := lookupDefinition(name)
	if !ok {
		return "", SourceDefault
	}
	if _, env := s.envValue(d.Name); env {
		s.mu.RLock()
		v := s.v.GetString(d.Name)
		s.mu.RUnlock()
		return d.normalize(v), SourceEnv
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, inFile := s.fileVals[d.Name]; inFile {
		return s.v.GetString(d.Name), SourceFile
	}
	return s.v.GetString(d.Name), SourceDefault
}

// All returns every known setting in definition order.
func (s *Store) All() []Entry {
	out := make([]Entry, 0, len(definitions))
	for _, d := range definitions {
		v, src := s.Lookup(d.Name)
		out = append(out, Entry{Name: d.Name, Value: v, Source: src, Default: d.Default, Description: d.Description})
	}
	return out
}

// Set validates value, writes it to the settings file and notifies observers when the
// effective value changed.
func (s *Store) Set(name, value string) error {
	d, ok := lookupDefinition(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, name)
	}
	if _, env := s.envValue(d.Name); env {
		return fmt.Errorf("%w: %s_%s", ErrOverridden, s.prefix, strings.ToUpper(d.Name))
	}
	value = d.normalize(value)
	if d.validate != nil {
		if err := d.validate(value); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidValue, d.Name, err)
		}
	}

	s.mu.Lock()
	old := s.v.GetString(d.Name)
	next := make(map[string]string, len(s.fileVals)+1)
	for k, v := range s.fileVals {
		next[k] = v
	}
	next[d.Name] = value
	if err := s.writeFile(next); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("write settings %s: %w", s.path, err)
	}
	s.fileVals = next
	s.v = s.build(next)
	s.mu.Unlock()

	s.log.Debug("setting updated", logx.String("name", d.Name), logx.String("value", value))
	if old != value {
		s.notify([]Change{{Name: d.Name, Old: old, New: value}})
	}
	return nil
}

// Reload re-reads the settings file and notifies observers of changed effective values.
func (s *Store) Reload() error {
	vals, err := s.readFile()
	if err != nil {
		return err
	}
	s.mu.Lock()
	before := make(map[string]string, len(definitions))
	for _, d := range definitions {
		before[d.Name] = s.v.GetString(d.Name)
	}
	s.fileVals = vals
	s.v = s.build(vals)
	var changes []Change
	for _, d := range definitions {
		if now := s.v.GetString(d.Name); now != before[d.Name] {
			changes = append(changes, Change{Name: d.Name, Old: before[d.Name], New: now})
		}
	}
	s.mu.Unlock()

	if len(changes) > 0 {
		s.log.Info("settings reloaded", logx.String("path", s.path), logx.Int("changed", len(changes)))
		s.notify(changes)
	}
	return nil
}

func (s *Store) notify(changes []Change) {
	s.obsMu.Lock()
	obs := append([]func(Change){}, s.observers...)
	s.obsMu.Unlock()
	for _, c := range changes {
		for _, fn := range obs {
			fn(c)
		}
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.SettingChanged, Data: c})
		}
	}
}

// Names returns the known setting names, sorted.
func Names() []string {
	out := make([]string, 0, len(definitions))
	for _, d := range definitions {
		out = append(out, d.Name)
	}
	sort.Strings(out)
	return out
}
