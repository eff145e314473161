// Package config loads and validates the archive engine's Settings,
// per spec.md §6: STORE_URL, SEARCH_INDEX, IDENTITY_SERVER/USER/PASS,
// CACHE.BACKEND/LOCATION, DEBUG. Settings are read from environment
// variables, mirroring cmd/spilld/main.go's fail-fast required-field
// checks but generalized from flag.String to os.Getenv since this
// object is shared by several cmd/... binaries, not just one server.
package config

import (
	"fmt"
	"os"
	"strings"
)

// Settings is the archive engine's full configuration.
type Settings struct {
	StoreURL string // scheme selects the driver: sqlite://, postgres://

	SearchIndex string // directory path; empty disables search

	IdentityServer string
	IdentityUser   string
	IdentityPass   string

	CacheBackend  string // "" or "mem" for in-process, "redis" for network-distributed
	CacheLocation string // redis address when CacheBackend == "redis"

	Debug bool
}

// Load reads Settings from the environment, matching the recognized
// keys of spec.md §6 exactly.
func Load() Settings {
	return Settings{
		StoreURL:       os.Getenv("STORE_URL"),
		SearchIndex:    os.Getenv("SEARCH_INDEX"),
		IdentityServer: os.Getenv("IDENTITY_SERVER"),
		IdentityUser:   os.Getenv("IDENTITY_USER"),
		IdentityPass:   os.Getenv("IDENTITY_PASS"),
		CacheBackend:   os.Getenv("CACHE.BACKEND"),
		CacheLocation:  os.Getenv("CACHE.LOCATION"),
		Debug:          os.Getenv("DEBUG") != "",
	}
}

// Validate fails fast when a required key is missing. SEARCH_INDEX,
// the IDENTITY_* trio, and CACHE.* are optional: their absence disables
// the corresponding component rather than failing startup.
func (s Settings) Validate() error {
	if s.StoreURL == "" {
		return fmt.Errorf("config: STORE_URL is required")
	}
	if s.CacheBackend == "redis" && s.CacheLocation == "" {
		return fmt.Errorf("config: CACHE.LOCATION is required when CACHE.BACKEND=redis")
	}
	identityFields := []string{s.IdentityServer, s.IdentityUser, s.IdentityPass}
	anySet, allSet := false, true
	for _, f := range identityFields {
		if f != "" {
			anySet = true
		} else {
			allSet = false
		}
	}
	if anySet && !allSet {
		return fmt.Errorf("config: IDENTITY_SERVER, IDENTITY_USER and IDENTITY_PASS must all be set together")
	}
	return nil
}

// StoreDriver reports which backend StoreURL selects.
func (s Settings) StoreDriver() string {
	switch {
	case strings.HasPrefix(s.StoreURL, "postgres://"), strings.HasPrefix(s.StoreURL, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(s.StoreURL, "sqlite://"):
		return "sqlite"
	default:
		return "sqlite" // a bare file path is treated as a sqlite DB file, matching db.Open(dbfile string)
	}
}

// StorePath strips a sqlite:// scheme, if present, leaving a bare file
// path suitable for sqlitestore.Open.
func (s Settings) StorePath() string {
	return strings.TrimPrefix(s.StoreURL, "sqlite://")
}
