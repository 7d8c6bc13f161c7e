//go:build (linux && (amd64 || arm64 || 386 || riscv64 || ppc64le || s390x)) || (windows && (amd64 || arm64)) || darwin || freebsd || android || ios || (netbsd && amd64) || (openbsd && (amd64 || arm64))

package drivers

import (
	// Pure Go SQLite, the default journal engine.
	_ "modernc.org/sqlite"
)
