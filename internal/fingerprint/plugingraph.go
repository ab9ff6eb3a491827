package fingerprint

import (
	"os"
	"sort"

	"github.com/distr1/cachecore/internal/hashalgo"
	"github.com/distr1/cachecore/internal/model"
)

// PluginScan names the files and directories a single plugin execution's
// configuration points at (e.g. a code generator's input directory, a
// resource bundle) that must participate in the fingerprint.
type PluginScan struct {
	ExecutionKey string
	Paths        []string // files and/or directories, opened as given (callers join the module base)
}

// pluginGraphItems fingerprints every path named by every configured
// plugin scan, by the same means as source-tree hashing: directories are
// walked recursively and each file within contributes an item.
func pluginGraphItems(scans []PluginScan, algo hashalgo.Algorithm) ([]model.DigestItem, error) {
	var items []model.DigestItem
	for _, scan := range scans {
		for _, p := range scan.Paths {
			info, err := os.Stat(p)
			if os.IsNotExist(err) {
				continue // a configured-but-absent path contributes nothing, not an error
			}
			if err != nil {
				return nil, err
			}
			if info.IsDir() {
				sub, err := sourceTreeItems([]SourceRoot{{IncludeRoot: p}}, algo)
				if err != nil {
					return nil, err
				}
				for _, it := range sub {
					items = append(items, model.DigestItem{
						Type: "plugin",
						Key:  scan.ExecutionKey + ":" + it.Key,
						Hash: it.Hash,
					})
				}
				continue
			}
			h, err := algo.HashFile(p)
			if err != nil {
				return nil, err
			}
			items = append(items, model.DigestItem{
				Type: "plugin",
				Key:  scan.ExecutionKey + ":" + p,
				Hash: h,
			})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return items, nil
}
