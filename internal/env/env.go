// Package env captures details about the cache's runtime environment:
// where its local tier lives on disk, and which remote credentials are
// available. Inspect it via `cachectl env`.
package env

import "os"

// CacheRoot is the root directory of the local cache tier
// (localrepo.Repository is rooted here by default).
var CacheRoot = findCacheRoot()

func findCacheRoot() string {
	if env := os.Getenv("CACHE_ROOT"); env != "" {
		return env
	}
	return os.ExpandEnv("$HOME/build-cache") // default
}

// RemoteCredentials reads CACHE_REMOTE_USER / CACHE_REMOTE_PASSWORD, the
// environment values remoterepo.ResolveCredentials prefers; a configured
// username/password is used only where these are unset.
func RemoteCredentials() (username, password string) {
	return os.Getenv("CACHE_REMOTE_USER"), os.Getenv("CACHE_REMOTE_PASSWORD")
}
