package main

import (
	"flag"
	"fmt"
	"strings"
)

// envName maps a flag name to its variable, e.g. db-type -> SHEETMAP_DB_TYPE.
func envName(prefix, flagName string) string {
	return prefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// applyEnvOverrides sets every flag of fs whose variable is present. It must
// run before fs.Parse so the command line still wins.
func applyEnvOverrides(fs *flag.FlagSet, prefix string, lookup func(string) (string, bool)) error {
	var errs []string
	fs.VisitAll(func(f *flag.Flag) {
		val, ok := lookup(envName(prefix, f.Name))
		if !ok {
			return
		}
		if err := fs.Set(f.Name, val); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", envName(prefix, f.Name), err))
		}
	})
	if len(errs) > 0 {
		return fmt.Errorf("invalid environment overrides: %s", strings.Join(errs, "; "))
	}
	return nil
}
