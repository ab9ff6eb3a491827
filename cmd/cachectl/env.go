package main

import (
	"context"
	"fmt"

	"github.com/distr1/cachecore/internal/env"
)

const envHelp = `cachectl env

Print the resolved cache environment: local cache root and whether
remote credentials are configured.
`

func cmdenv(ctx context.Context, args []string) error {
	fmt.Printf("CACHE_ROOT=%s\n", env.CacheRoot)
	user, _ := env.RemoteCredentials()
	if user != "" {
		fmt.Printf("CACHE_REMOTE_USER=%s\n", user)
	}
	return nil
}
