package config

import (
	"encoding/json"
	"hash/fnv"
)

// fingerprint hashes the JSON form of cfg, so two files that differ only in
// formatting, comments or key order get the same value. 0 means unknown.
func fingerprint(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	h := fnv.New64a()
	if err := json.NewEncoder(h).Encode(cfg); err != nil {
		return 0
	}
	return h.Sum64()
}
