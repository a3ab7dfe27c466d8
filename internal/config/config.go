// Package config holds the node configuration spec.md's CLI flags map to,
// plus the JSON-file override path the teacher's own server/config.go uses
// for unattended deployments.
package config

import (
	"encoding/json"
	"os"
)

// Config is every tunable a buddyfsd process needs, whether set via CLI
// flag or overridden by a JSON file (-c).
type Config struct {
	Listen           string   `json:"listen"`
	BuddyDir         string   `json:"buddydir"`
	Seeds            []string `json:"seeds"`
	Key              string   `json:"key"` // pre-shared secret DRM per-file keys are derived from
	RateLimit        int      `json:"ratelimit"`
	SnapshotInterval int      `json:"snapshotinterval"` // seconds between SaveLocal ticks
	RequestTimeout   int      `json:"requesttimeout"`   // seconds, registry waiter deadline
	Log              string   `json:"log"`
	SnmpLog          string   `json:"snmplog"`
	SnmpPeriod       int      `json:"snmpperiod"`
	Quiet            bool     `json:"quiet"`
}

// Default returns the baseline configuration a fresh node starts from
// before CLI flags or a JSON override are applied.
func Default() *Config {
	return &Config{
		Listen:           ":9527",
		BuddyDir:         ".buddyfs",
		RateLimit:        1 << 20,
		SnapshotInterval: 30,
		RequestTimeout:   10,
		SnmpPeriod:       60,
	}
}

// ParseJSON decodes path into cfg, overriding any field the file sets.
// Mirrors the teacher's parseJSONConfig: open, decode, return the error
// as-is rather than wrapping it, since the caller already knows the path.
func ParseJSON(cfg *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewDecoder(file).Decode(cfg)
}
