package main

// crosscompile builds sheet-cluster-map for every platform its journal
// drivers support and stamps the binaries with the git build number.

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
)

const binaryName = "sheet-cluster-map"

type target struct {
	goos, goarch string
}

// targets mirrors the build constraints of pkg/database/drivers: every
// entry compiles at least the sqlite or genji driver.
var targets = []target{
	{"linux", "amd64"}, {"linux", "arm64"}, {"linux", "386"}, {"linux", "riscv64"},
	{"linux", "ppc64le"}, {"linux", "s390x"},
	{"darwin", "amd64"}, {"darwin", "arm64"},
	{"freebsd", "amd64"}, {"freebsd", "arm64"},
	{"openbsd", "amd64"}, {"openbsd", "arm64"},
	{"netbsd", "amd64"},
	{"windows", "amd64"}, {"windows", "arm64"},
}

func main() {
	root, err := gitOutput("rev-parse", "--show-toplevel")
	if err != nil {
		log.Fatalf("git root: %v", err)
	}
	version, err := buildVersion()
	if err != nil {
		log.Fatalf("git version: %v", err)
	}
	fmt.Printf("Building version: %s\n", version)

	outRoot := filepath.Join(root, "binaries", version)
	if err := os.MkdirAll(outRoot, os.ModePerm); err != nil {
		log.Fatalf("binaries dir: %v", err)
	}
	latest := filepath.Join(root, "binaries", "latest")
	_ = os.Remove(latest)
	if err := os.Symlink(version, latest); err != nil {
		log.Printf("Warning: failed to create symlink 'latest': %v", err)
	}

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for _, t := range targets {
		t := t
		g.Go(func() error {
			if err := build(root, outRoot, version, t); err != nil {
				log.Printf("✖ %s/%s: %v", t.goos, t.goarch, err)
				return nil
			}
			log.Printf("✔ %s/%s", t.goos, t.goarch)
			return nil
		})
	}
	_ = g.Wait()
}

func build(root, outRoot, version string, t target) error {
	dir := t.goos
	if dir == "darwin" {
		dir = "mac"
	}
	outDir := filepath.Join(outRoot, dir, t.goarch)
	if err := os.MkdirAll(outDir, os.ModePerm); err != nil {
		return err
	}
	name := binaryName
	if t.goos == "windows" {
		name += ".exe"
	}

	args := []string{"build", "-ldflags", fmt.Sprintf("-s -w -X 'main.CompileVersion=%s'", version)}
	duckdb := supportsDuckDB(t)
	if duckdb {
		args = append(args, "-tags", "duckdb")
	}
	args = append(args, "-o", filepath.Join(outDir, name), ".")

	cmd := exec.Command("go", args...)
	cmd.Dir = root
	cmd.Env = append(os.Environ(), "GOOS="+t.goos, "GOARCH="+t.goarch)
	if duckdb {
		cmd.Env = append(cmd.Env, "CGO_ENABLED=1")
	} else {
		cmd.Env = append(cmd.Env, "CGO_ENABLED=0")
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// supportsDuckDB matches the duckdb driver's build tag: cgo on Linux for the
// host architecture only, since cross cgo needs a toolchain per target.
func supportsDuckDB(t target) bool {
	return runtime.GOOS == "linux" && t.goos == runtime.GOOS && t.goarch == runtime.GOARCH &&
		(t.goarch == "amd64" || t.goarch == "arm64")
}

// buildVersion prefers GITHUB_RUN_NUMBER, then the commit count, and marks
// dirty trees.
func buildVersion() (string, error) {
	n := os.Getenv("GITHUB_RUN_NUMBER")
	if n == "" {
		var err error
		if n, err = gitOutput("rev-list", "--count", "HEAD"); err != nil {
			return "", err
		}
	}
	status, err := gitOutput("status", "--porcelain")
	if err != nil {
		return "", err
	}
	if status != "" {
		n += "-dirty"
	}
	return n, nil
}

func gitOutput(args ...string) (string, error) {
	out, err := exec.Command("git", args...).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
