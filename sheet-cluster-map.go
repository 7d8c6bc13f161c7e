package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/sync/errgroup"

	"sheet-cluster-map/pkg/api"
	"sheet-cluster-map/pkg/database"
	"sheet-cluster-map/pkg/logger"
	"sheet-cluster-map/pkg/mapview"
	"sheet-cluster-map/pkg/sheet"
	"sheet-cluster-map/pkg/statusbus"
)

//go:embed public_html/*
var content embed.FS

var domain = flag.String("domain", "", "Use 80 and 443 ports. Automatic HTTPS cert via Let's Encrypt.")
var port = flag.Int("port", 8765, "Port for running the server")
var version = flag.Bool("version", false, "Show the application version")

var dbType = flag.String("db-type", "sqlite", "Load journal driver: sqlite, genji, duckdb, pgx (postgresql) or none")
var dbPath = flag.String("db-path", "", "Path to the journal file (sqlite, genji, duckdb); defaults to the current folder")
var dbConn = flag.String("db-conn", "", "PostgreSQL DSN; overrides the host flags (pgx driver)")
var dbHost = flag.String("db-host", "127.0.0.1", "Database host (pgx driver)")
var dbPort = flag.Int("db-port", 5432, "Database port (pgx driver)")
var dbUser = flag.String("db-user", "postgres", "Database user (pgx driver)")
var dbPass = flag.String("db-pass", "", "Database password (pgx driver)")
var dbName = flag.String("db-name", "SheetClusterMap", "Database name (pgx driver)")
var pgSSLMode = flag.String("pg-ssl-mode", "prefer", "PostgreSQL SSL mode: disable, allow, prefer, require, verify-ca, or verify-full")
var journalRetention = flag.Duration("journal-retention", 30*24*time.Hour, "Drop load journal entries older than this; 0 keeps everything")

var defaultLat = flag.Float64("default-lat", mapview.DefaultCenter.Lat, "Map latitude when a view sets no center")
var defaultLon = flag.Float64("default-lon", mapview.DefaultCenter.Lon, "Map longitude when a view sets no center")
var defaultZoom = flag.Float64("default-zoom", mapview.DefaultZoom, "Map zoom when a view sets none")

var sheetsBaseURL = flag.String("sheets-base-url", sheet.DefaultBaseURL, "Base URL of the spreadsheet CSV export")
var fetchTimeout = flag.Duration("fetch-timeout", 20*time.Second, "Timeout of one spreadsheet tab download")
var sessionTTL = flag.Duration("session-ttl", time.Hour, "How long an idle browser session keeps its map state")

var CompileVersion = "dev"

// envPrefix marks environment variables that override flag defaults.
const envPrefix = "SHEETMAP_"

// withServerHeader adds "Server: sheet-cluster-map/<CompileVersion>" and
// answers HEAD / with 200 so uptime probes stay cheap.
func withServerHeader(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "sheet-cluster-map/"+CompileVersion)

		if r.Method == http.MethodHead && r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// serveWithDomain runs :80 for ACME challenges and redirects, and :443 with
// Let's Encrypt certificates. It returns when ctx ends or :443 fails.
func serveWithDomain(ctx context.Context, domain string, handler http.Handler) error {
	certMgr := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		Cache:  autocert.DirCache("certs"),
		HostPolicy: func(ctx context.Context, host string) error {
			if host == domain || host == "www."+domain {
				return nil
			}
			if net.ParseIP(host) != nil {
				return nil
			}
			return errors.New("acme/autocert: host not configured")
		},
	}

	mux80 := http.NewServeMux()
	mux80.Handle("/.well-known/acme-challenge/", certMgr.HTTPHandler(nil))
	mux80.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://"+domain+r.URL.RequestURI(), http.StatusMovedPermanently)
	})
	srv80 := &http.Server{Addr: ":80", Handler: mux80, ReadHeaderTimeout: 10 * time.Second}

	tlsCfg := certMgr.TLSConfig()
	tlsCfg.MinVersion = tls.VersionTLS12
	srv443 := &http.Server{
		Addr:              ":443",
		Handler:           handler,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("HTTP  server (ACME+redirect) ➜ :80")
		if err := srv80.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP  server error: %v", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Printf("HTTPS server for %s ➜ :443", domain)
		if err := srv443.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("https server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv80.Shutdown(shutCtx)
		_ = srv443.Shutdown(shutCtx)
		return nil
	})
	return g.Wait()
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP server ➜ http://localhost%s", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	}
}

// isClientDisconnect reports write errors caused by the browser going away.
func isClientDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer")
}

// =====================
// Translations
// =====================
var translations map[string]map[string]string

func loadTranslations(fsys fs.FS, filename string) error {
	data, err := fs.ReadFile(fsys, filename)
	if err != nil {
		return fmt.Errorf("read translations: %w", err)
	}
	if err := json.Unmarshal(data, &translations); err != nil {
		return fmt.Errorf("parse translations: %w", err)
	}
	return nil
}

// getPreferredLanguage picks ja or en from Accept-Language, en by default.
func getPreferredLanguage(r *http.Request) string {
	langHeader := r.Header.Get("Accept-Language")
	for _, raw := range strings.Split(langHeader, ",") {
		code := strings.TrimSpace(strings.SplitN(raw, ";", 2)[0])
		code = strings.ToLower(strings.ReplaceAll(code, "_", "-"))
		if i := strings.IndexByte(code, '-'); i > 0 {
			code = code[:i]
		}
		if _, ok := translations[code]; ok {
			return code
		}
	}
	return "en"
}

// =====================
// WEB: map page
// =====================
func mapHandler(w http.ResponseWriter, r *http.Request) {
	lang := getPreferredLanguage(r)

	tmpl, err := template.New("map.html").Funcs(template.FuncMap{
		"translate": func(key string) string {
			if val, ok := translations[lang][key]; ok {
				return val
			}
			return translations["en"][key]
		},
		"toJSON": func(data any) (template.JS, error) {
			b, err := json.Marshal(data)
			return template.JS(b), err
		},
	}).ParseFS(content, "public_html/map.html")
	if err != nil {
		log.Printf("Error parsing template: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	ver := CompileVersion
	if ver == "dev" {
		ver = "latest"
	}

	data := struct {
		Version      string
		Translations map[string]string
		Lang         string
		PageID       string
		DefaultLat   float64
		DefaultLon   float64
		DefaultZoom  float64
	}{
		Version:      ver,
		Translations: translations[lang],
		Lang:         lang,
		PageID:       uuid.NewString(),
		DefaultLat:   *defaultLat,
		DefaultLon:   *defaultLon,
		DefaultZoom:  *defaultZoom,
	}

	// Render into a buffer so a template error can still become a 500.
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		log.Printf("Error executing template: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	// Every page carries its own page id.
	w.Header().Set("Cache-Control", "no-store")
	if _, err := buf.WriteTo(w); err != nil {
		if isClientDisconnect(err) {
			log.Printf("client disconnected while writing response")
		} else {
			log.Printf("Error writing response: %v", err)
		}
	}
}

// routes assembles the page, static assets and the API.
func routes(h *api.Handler) (http.Handler, error) {
	staticFS, err := fs.Sub(content, "public_html")
	if err != nil {
		return nil, fmt.Errorf("static fs: %w", err)
	}

	r := h.Router()
	r.Get("/", mapHandler)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))

	return withServerHeader(r), nil
}

// pruneJournal drops old journal entries every hour until ctx ends.
func pruneJournal(ctx context.Context, db *database.Database, keep time.Duration) error {
	if keep <= 0 {
		return nil
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		n, err := db.PruneLoads(ctx, time.Now().Add(-keep))
		switch {
		case err != nil && ctx.Err() == nil:
			log.Printf("load journal prune: %v", err)
		case n > 0:
			log.Printf("load journal: pruned %d entries", n)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// =====================
// MAIN
// =====================
func main() {
	// 1. Flags: .env, then SHEETMAP_* variables, then the command line.
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf(".env: %v", err)
	}
	if err := applyEnvOverrides(flag.CommandLine, envPrefix, os.LookupEnv); err != nil {
		log.Fatalf("environment: %v", err)
	}
	flag.Parse()

	if *version {
		fmt.Printf("sheet-cluster-map version %s\n", CompileVersion)
		return
	}
	if err := loadTranslations(content, "public_html/translations.json"); err != nil {
		log.Fatalf("%v", err)
	}

	// 2. Ports below 1024 need privileges.
	if *domain != "" && runtime.GOOS != "windows" && os.Geteuid() != 0 {
		log.Println("⚠  Binding to :80 / :443 requires super-user rights; run with sudo or as root.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Load journal.
	dbCfg := database.Config{
		DBType:    *dbType,
		DBPath:    *dbPath,
		DBConn:    *dbConn,
		DBHost:    *dbHost,
		DBPort:    *dbPort,
		DBUser:    *dbUser,
		DBPass:    *dbPass,
		DBName:    *dbName,
		PGSSLMode: *pgSSLMode,
		Port:      *port,
	}
	var db *database.Database
	if database.Disabled(dbCfg) {
		log.Printf("load journal disabled")
	} else {
		var err error
		db, err = database.NewDatabase(dbCfg)
		if err != nil {
			log.Fatalf("DB init: %v", err)
		}
		defer db.Close()
		if err := db.InitSchema(ctx); err != nil {
			log.Fatalf("DB schema: %v", err)
		}
	}

	// 4. API.
	base, timeout := *sheetsBaseURL, *fetchTimeout
	sources := func(sheetID string) sheet.Source {
		return sheet.NewHTTPSource(base, sheetID, timeout)
	}
	registry := api.NewRegistry(*sessionTTL)
	defer registry.Close()

	var journal api.JournalStore
	if db != nil {
		journal = db
	}
	h := api.NewHandler(sources, registry, statusbus.NewBus(256), journal, log.Printf)
	h.DefaultCenter = mapview.LatLon{Lat: *defaultLat, Lon: *defaultLon}
	h.DefaultZoom = *defaultZoom

	handler, err := routes(h)
	if err != nil {
		log.Fatalf("%v", err)
	}

	// 5. Servers and background jobs.
	g, gctx := errgroup.WithContext(ctx)
	if *domain != "" {
		g.Go(func() error { return serveWithDomain(gctx, *domain, handler) })
	} else {
		g.Go(func() error { return serveHTTP(gctx, fmt.Sprintf(":%d", *port), handler) })
	}
	if db != nil {
		g.Go(func() error { return pruneJournal(gctx, db, *journalRetention) })
	}

	if err := g.Wait(); err != nil {
		log.Printf("shutdown: %v", err)
	}
	logger.Sync()
}
