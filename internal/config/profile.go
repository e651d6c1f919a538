package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
)

// ProfilesFile holds all named client profiles and tracks which one is
// active. It is stored as TOML.
type ProfilesFile struct {
	Active   string             `toml:"active"`
	Profiles map[string]Profile `toml:"profiles"`
}

// Profile is a named server profile for the lendbus client commands.
type Profile struct {
	URL     string `toml:"url"`
	Token   string `toml:"token,omitempty"`
	NATSURL string `toml:"nats_url,omitempty"`

	MaxAttempts    int           `toml:"max_attempts,omitempty"`
	BaseDelay      time.Duration `toml:"base_delay,omitempty"`
	MaxDelay       time.Duration `toml:"max_delay,omitempty"`
	ConnectTimeout time.Duration `toml:"connect_timeout,omitempty"`
	PingInterval   time.Duration `toml:"ping_interval,omitempty"`
	PongTimeout    time.Duration `toml:"pong_timeout,omitempty"`
}

// DefaultProfilePath returns ~/.config/lendbus/client.toml, honoring
// LENDBUS_CLIENT_CONFIG when set.
func DefaultProfilePath() (string, error) {
	if p := os.Getenv("LENDBUS_CLIENT_CONFIG"); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "lendbus", "client.toml"), nil
}

// LoadProfiles reads the profiles file. A missing file yields an empty set.
func LoadProfiles(path string) (ProfilesFile, error) {
	var f ProfilesFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		if os.IsNotExist(err) {
			return ProfilesFile{Profiles: map[string]Profile{}}, nil
		}
		return ProfilesFile{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if f.Profiles == nil {
		f.Profiles = map[string]Profile{}
	}
	return f, nil
}

// SaveProfiles writes the profiles file with owner-only permissions since
// it holds tokens.
func SaveProfiles(path string, f ProfilesFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer out.Close()
	return toml.NewEncoder(out).Encode(f)
}

// Select returns the named profile, or the active one when name is empty.
// With no name and no active profile it returns the zero Profile.
func (f ProfilesFile) Select(name string) (Profile, error) {
	if name == "" {
		name = f.Active
	}
	if name == "" {
		return Profile{}, nil
	}
	p, ok := f.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("profile %q not found", name)
	}
	return p, nil
}

// Names returns the profile names, sorted.
func (f ProfilesFile) Names() []string {
	names := make([]string, 0, len(f.Profiles))
	for n := range f.Profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
