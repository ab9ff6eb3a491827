package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/distr1/cachecore/internal/env"
	"github.com/distr1/cachecore/internal/localrepo"
	"github.com/distr1/cachecore/internal/model"
)

const clearHelp = `cachectl clear -module <groupId:artifactId:version> -checksum <checksum>

Evict one module's local cache entry, e.g. after hand-editing its
inputs in a way the fingerprint would not otherwise have caught.
`

func cmdclear(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("clear", flag.ExitOnError)
	moduleFlag := fset.String("module", "", "groupId:artifactId:version")
	checksum := fset.String("checksum", "", "aggregate fingerprint checksum")
	fset.Usage = func() { fmt.Print(clearHelp); fset.PrintDefaults() }
	fset.Parse(args)

	if *moduleFlag == "" || *checksum == "" {
		return fmt.Errorf("-module and -checksum are required")
	}

	local, err := localrepo.New(env.CacheRoot, model.DefaultConfig().MaxLocalBuildsCached)
	if err != nil {
		return err
	}
	module := model.ParseCoordinate(*moduleFlag)
	return local.ClearCache(module, *checksum)
}
