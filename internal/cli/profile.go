package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"colonywars/internal/ledger"
)

// ErrNoProfile is returned by LoadProfile before the first login.
var ErrNoProfile = errors.New("no profile saved, run `cw login` first")

// Profile is the local identity the CLI acts under.
type Profile struct {
	Address       ledger.Address `json:"address"`
	PrimaryColony ledger.ID      `json:"primary_colony"`
	APIBaseURL    string         `json:"api_base_url,omitempty"`
}

// Dir is the CLI state directory, created on demand.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".cwars")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func profilePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "profile.json"), nil
}

func SaveProfile(p Profile) error {
	p.Address = ledger.NormalizeAddress(string(p.Address))
	if p.Address.IsZero() {
		return fmt.Errorf("profile address is required")
	}
	path, err := profilePath()
	if err != nil {
		return err
	}
	body, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o600)
}

func LoadProfile() (Profile, error) {
	path, err := profilePath()
	if err != nil {
		return Profile{}, err
	}
	body, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Profile{}, ErrNoProfile
	}
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	if err := json.Unmarshal(body, &p); err != nil {
		return Profile{}, err
	}
	if strings.TrimSpace(string(p.Address)) == "" {
		return Profile{}, ErrNoProfile
	}
	return p, nil
}

func ClearProfile() error {
	path, err := profilePath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return os.Remove(path)
}

// ResolveID accepts either a 64-character hex id or a name, which is hashed
// under domain the same way the server names fixtures.
func ResolveID(domain, s string) (ledger.ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ledger.ZeroID, fmt.Errorf("%s is required", domain)
	}
	if id, err := ledger.ParseID(s); err == nil {
		return id, nil
	}
	return ledger.NameID(domain, s), nil
}
