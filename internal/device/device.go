// Package device derives a stable identifier and a human-readable name for
// the machine tt is running on. The identifier is persisted next to the
// local database so it survives hardware traits changing (a laptop on a
// dock reports a different CPU count, for example).
package device

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"tt-go/internal/tracker"
)

// identityFileName is where the resolved identity is persisted under the
// data directory.
const identityFileName = "device.toml"

// persistedIdentity is the on-disk form of a resolved device identity.
type persistedIdentity struct {
	ID        string    `toml:"id"`
	Name      string    `toml:"name"`
	CreatedAt time.Time `toml:"created_at"`
}

// Resolve returns the device identity for this machine, persisting it to
// dataDir on first use. Non-empty overrideID and overrideName take
// precedence over both the persisted file and the derived values.
func Resolve(dataDir, overrideID, overrideName string) (tracker.DeviceInfo, error) {
	info := tracker.DeviceInfo{
		ID:        overrideID,
		Name:      overrideName,
		UserAgent: UserAgent(),
	}
	if info.ID != "" && info.Name != "" {
		return info, nil
	}

	path := filepath.Join(dataDir, identityFileName)
	if stored, err := readIdentityFile(path); err == nil {
		if info.ID == "" {
			info.ID = stored.ID
		}
		if info.Name == "" {
			info.Name = stored.Name
		}
		if info.ID != "" && info.Name != "" {
			return info, nil
		}
	}

	if info.ID == "" {
		info.ID = Fingerprint()
	}
	if info.Name == "" {
		info.Name = Name()
	}

	if err := writeIdentityFile(path, persistedIdentity{
		ID:        info.ID,
		Name:      info.Name,
		CreatedAt: time.Now(),
	}); err != nil {
		return tracker.DeviceInfo{}, fmt.Errorf("persisting device identity: %w", err)
	}
	return info, nil
}

// Fingerprint derives a short base-36 identifier from stable host traits.
func Fingerprint() string {
	traits := []string{
		hostname(),
		runtime.GOOS,
		runtime.GOARCH,
		strconv.Itoa(runtime.NumCPU()),
		machineID(),
		timezone(),
	}
	return hashString(strings.Join(traits, "|"))
}

// Name returns a coarse human-readable label for the host platform.
func Name() string {
	switch runtime.GOOS {
	case "linux":
		return "Linux Device"
	case "darwin":
		return "Mac"
	case "windows":
		return "Windows PC"
	default:
		return "Unknown Device"
	}
}

// UserAgent identifies this client to the remote store.
func UserAgent() string {
	return fmt.Sprintf("tt-go (%s/%s)", runtime.GOOS, runtime.GOARCH)
}

// hashString is a 32-bit rolling hash rendered in base 36. Collisions
// across a user's handful of devices are acceptably unlikely.
func hashString(s string) string {
	var hash int32
	for _, r := range s {
		hash = (hash << 5) - hash + int32(r)
	}
	// Widen before taking the absolute value: negating math.MinInt32 in
	// int32 overflows back to itself.
	v := int64(hash)
	if v < 0 {
		v = -v
	}
	return strconv.FormatInt(v, 36)
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown-host"
	}
	return name
}

// machineID reads the systemd or dbus machine id when present. An empty
// string just weakens the fingerprint, it does not break it.
func machineID() string {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if b, err := os.ReadFile(path); err == nil {
			return strings.TrimSpace(string(b))
		}
	}
	return ""
}

func timezone() string {
	name, offset := time.Now().Zone()
	return fmt.Sprintf("%s%d", name, offset)
}

func readIdentityFile(path string) (*persistedIdentity, error) {
	var stored persistedIdentity
	if _, err := toml.DecodeFile(path, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

func writeIdentityFile(path string, id persistedIdentity) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create identity file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(id); err != nil {
		return fmt.Errorf("failed to encode identity file: %w", err)
	}
	return nil
}
