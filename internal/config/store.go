package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/riptide-dl/riptide/internal/engine/events"
)

// Flattened keys used by the adapters.
const (
	KeyDownloadDir       = "general.default_download_dir"
	KeyAppIdentity       = "general.app_identity"
	KeyAutoResume        = "general.auto_resume"
	KeyHideFinished      = "general.hide_finished"
	KeyReapHiddenAfter   = "general.reap_hidden_after"
	KeyListenPort        = "torrent.listen_port"
	KeyMaxActive         = "torrent.max_active_downloads"
	KeyUploadLimit       = "torrent.upload_rate_limit"
	KeyDownloadLimit     = "torrent.download_rate_limit"
	KeyEnableDHT         = "torrent.enable_dht"
	KeySeed              = "torrent.seed"
	KeyUserAgent         = "network.user_agent"
	KeyMaxConcurrent     = "network.max_concurrent_downloads"
	KeyRequestTimeout    = "network.request_timeout"
	KeyRefreshInterval   = "queue.refresh_interval"
	KeySaveInterval      = "queue.save_interval"
	KeyPendingAddTTL     = "queue.pending_add_ttl"
	KeyStopTimeout       = "queue.stop_timeout"
	KeyMaxEngineFailures = "queue.max_engine_failures"
	KeyLogRetentionCount = "general.log_retention_count"
)

var ErrUnknownKey = errors.New("config: unknown key")

// Store exposes Settings as flat "category.key" values with change subscription.
// Handlers registered with On receive the new value after every effective change.
type Store struct {
	mu       sync.RWMutex
	settings *Settings
	bus      *events.Bus
}

func NewStore(s *Settings) *Store {
	if s == nil {
		s = DefaultSettings()
	}
	cp := *s
	return &Store{settings: &cp, bus: events.NewBus()}
}

// Settings returns a copy of the current settings.
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.settings
}

// Save writes the current settings to the settings file.
func (s *Store) Save() error {
	cp := s.Settings()
	return SaveSettings(&cp)
}

func (s *Store) On(key string, h events.Handler) {
	s.bus.On(key, h)
}

func (s *Store) Get(key string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, err := field(s.settings, key)
	if err != nil {
		return nil, err
	}
	return f.Interface(), nil
}

// Set assigns value to key. Strings are parsed into the field's type, so CLI
// input such as "30s" or "true" is accepted.
func (s *Store) Set(key string, value any) error {
	s.mu.Lock()
	f, err := field(s.settings, key)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	v, err := coerce(value, f.Type())
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("config: set %s: %w", key, err)
	}
	changed := !reflect.DeepEqual(f.Interface(), v.Interface())
	if changed {
		f.Set(v)
	}
	s.mu.Unlock()

	if changed {
		s.bus.Emit(key, v.Interface())
	}
	return nil
}

func (s *Store) String(key string) string {
	v, _ := s.Get(key)
	str, _ := v.(string)
	return str
}

func (s *Store) Bool(key string) bool {
	v, _ := s.Get(key)
	b, _ := v.(bool)
	return b
}

func (s *Store) Int(key string) int {
	v, _ := s.Get(key)
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	}
	return 0
}

func (s *Store) Int64(key string) int64 {
	v, _ := s.Get(key)
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	}
	return 0
}

func (s *Store) Duration(key string) time.Duration {
	v, _ := s.Get(key)
	d, _ := v.(time.Duration)
	return d
}

// Keys lists every settable key in display order.
func Keys() []string {
	meta := GetSettingsMetadata()
	var keys []string
	for _, cat := range CategoryOrder() {
		for _, m := range meta[cat] {
			keys = append(keys, m.Key)
		}
	}
	return keys
}

func field(s *Settings, key string) (reflect.Value, error) {
	cat, name, ok := strings.Cut(key, ".")
	if !ok {
		return reflect.Value{}, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	section, ok := byTag(reflect.ValueOf(s).Elem(), cat)
	if !ok || section.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	f, ok := byTag(section, name)
	if !ok {
		return reflect.Value{}, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return f, nil
}

func byTag(v reflect.Value, tag string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name == tag {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

var durationType = reflect.TypeOf(time.Duration(0))

func coerce(value any, t reflect.Type) (reflect.Value, error) {
	if str, ok := value.(string); ok && t.Kind() != reflect.String {
		return parseString(str, t)
	}
	v := reflect.ValueOf(value)
	if !v.IsValid() {
		return reflect.Value{}, fmt.Errorf("nil value for %s", t)
	}
	if v.Type() == t {
		return v, nil
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int64:
		switch v.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
			return v.Convert(t), nil
		case reflect.Float64, reflect.Float32:
			f := v.Float()
			if f != float64(int64(f)) {
				return reflect.Value{}, fmt.Errorf("%v is not an integer", value)
			}
			return reflect.ValueOf(int64(f)).Convert(t), nil
		}
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", value, t)
}

func parseString(str string, t reflect.Type) (reflect.Value, error) {
	if t == durationType {
		d, err := time.ParseDuration(str)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(d), nil
	}
	switch t.Kind() {
	case reflect.Bool:
		b, err := strconv.ParseBool(str)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(b), nil
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(n).Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot parse %q as %s", str, t)
}
