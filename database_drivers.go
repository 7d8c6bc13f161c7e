//go:build !test

// Journal drivers are linked into the binary only; `go test -tags test`
// skips them.
package main

import "sheet-cluster-map/pkg/database/drivers"

func init() {
	drivers.Ready()
}
