// Package appid holds the application identity used for binary naming,
// config discovery and environment variable prefixes.
package appid

import "strings"

// Identity describes how the application names itself on disk and in the
// environment.
type Identity struct {
	Vendor      string
	BinaryName  string
	ConfigName  string
	EnvPrefix   string
	Description string
}

var identity = Identity{
	Vendor:      "socialrelay",
	BinaryName:  "socialrelay",
	ConfigName:  "socialrelay",
	EnvPrefix:   "SOCIALRELAY_",
	Description: "OAuth token lifecycle and rate-limited relay for social platform APIs",
}

// Get returns the application identity.
func Get() Identity {
	return identity
}

// Env returns the prefixed environment variable name for key.
func Env(key string) string {
	prefix := identity.EnvPrefix
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return prefix + strings.ToUpper(strings.TrimSpace(key))
}
