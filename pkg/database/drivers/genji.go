//go:build (linux && (amd64 || arm64 || ppc64 || ppc64le || s390x || mips64 || mips64le)) || darwin || freebsd || dragonfly || android || ios || (windows && (amd64 || arm64))

package drivers

import (
	// Embedded document store, selectable with -db-type genji.
	_ "github.com/genjidb/genji/driver"
)
