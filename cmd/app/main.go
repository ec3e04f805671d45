package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/maloquacious/itemdeck/internal/config"
	"github.com/maloquacious/itemdeck/internal/screen"
	"github.com/maloquacious/itemdeck/internal/store"
	"github.com/maloquacious/itemdeck/internal/store/sqlite"
	"github.com/maloquacious/semver"
	"github.com/spf13/cobra"
)

var (
	version   = semver.Version{Minor: 1, PreRelease: "alpha", Build: semver.Commit()}
	buildDate = ""
)

var (
	port       int
	adminPort  int
	shutdownTO time.Duration
	exitAfter  time.Duration
	publicDir  string
	dbPath     string
	readOnly   bool
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Printf("config error: %v", err)
		os.Exit(1)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = store.GetDBPath(store.GetStorePath())
	}

	rootCmd := &cobra.Command{
		Use:   "app",
		Short: "Itemdeck list server and admin CLI",
	}

	// Global flags; environment values are the defaults
	rootCmd.PersistentFlags().DurationVar(&shutdownTO, "shutdown-timeout", cfg.ShutdownTimeout, "graceful shutdown timeout")
	rootCmd.PersistentFlags().StringVar(&publicDir, "public", cfg.PublicDir, "directory for static public assets")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", cfg.DBPath, "path to the SQLite database file")
	rootCmd.PersistentFlags().BoolVar(&readOnly, "read-only", cfg.ReadOnly, "reject all mutating datastore operations")

	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the itemdeck server",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&port, "port", cfg.Port, "public HTTP port (HTML)")
	serveCmd.Flags().IntVar(&adminPort, "admin-port", cfg.AdminPort, "admin HTTP port (JSON, loopback only)")
	serveCmd.Flags().DurationVar(&exitAfter, "exit-after", 0, "optional runtime; if set, server exits after this duration (testing)")

	// db command group
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	dbCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and initialize the datastore",
		RunE:  runDBCreate,
	}
	dbUpgradeCmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Apply migrations to the target schema version",
		RunE:  runDBUpgrade,
	}
	dbVerifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify schema integrity and version",
		RunE:  runDBVerify,
	}

	dbCmd.AddCommand(dbCreateCmd, dbUpgradeCmd, dbVerifyCmd)
	rootCmd.AddCommand(serveCmd, dbCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newStore() *sqlite.SQLiteStore {
	return sqlite.New(dbPath, sqlite.WithReadOnly(readOnly))
}

// server holds the item list screen behind a mutex; the screen itself is a
// single logical task with no locking of its own.
type server struct {
	mu       sync.Mutex
	st       store.Store
	list     *screen.List
	readOnly bool
}

var listPage = template.Must(template.New("list").Parse(`<!DOCTYPE html>
<html>
<head><title>itemdeck</title></head>
<body>
<h1>Items</h1>
<form method="post" action="/items/add">
  <input name="name" placeholder="name">
  <input name="description" placeholder="description">
  <button type="submit">Add</button>
</form>
<table>
<tr><th>id</th><th>name</th><th>description</th><th>extra</th><th></th></tr>
{{range .}}
<tr>
  <td>{{.ID}}</td>
  <td>{{.Name}}</td>
  <td>{{.Description}}</td>
  <td>{{if .Extra}}{{.Extra}}{{end}}</td>
  <td>
    <form method="post" action="/items/update">
      <input type="hidden" name="id" value="{{.ID}}">
      <input name="name" placeholder="name">
      <input name="description" placeholder="description">
      <button type="submit">Update</button>
    </form>
    <form method="post" action="/items/delete">
      <input type="hidden" name="id" value="{{.ID}}">
      <button type="submit">Delete</button>
    </form>
  </td>
</tr>
{{end}}
</table>
</body>
</html>
`))

// runServe starts both the public (HTML) and admin (JSON) servers with graceful shutdown.
func runServe(cmd *cobra.Command, args []string) error {
	// Migrations run writable at boot; the configured read-only mode takes
	// effect before any listener accepts traffic.
	st := sqlite.New(dbPath)
	list := screen.NewList(st)
	if err := list.Mount(context.Background()); err != nil {
		return fmt.Errorf("mount item list: %w", err)
	}
	if readOnly {
		st.SetReadOnly(true)
	}

	srv := &server{st: st, list: list, readOnly: readOnly}

	publicMux := http.NewServeMux()
	adminMux := http.NewServeMux()

	// --- Public routes (HTML) ---
	publicMux.HandleFunc("/", srv.handleList)
	publicMux.HandleFunc("/items/add", srv.handleAdd)
	publicMux.HandleFunc("/items/update", srv.handleUpdate)
	publicMux.HandleFunc("/items/delete", srv.handleDelete)

	publicMux.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	publicMux.HandleFunc("/ready", srv.handleReady)

	// Static under /public/* (maps to ./public)
	publicMux.Handle("/public/", http.StripPrefix("/public/", http.FileServer(http.Dir(publicDir))))

	// --- Admin routes (JSON-only, loopback only) ---
	adminMux.Handle("/admin/status", jsonOnly(http.HandlerFunc(srv.handleAdminStatus)))
	adminMux.Handle("/admin/items", jsonOnly(http.HandlerFunc(srv.handleAdminItems)))
	adminMux.Handle("/admin/read-only", jsonOnly(http.HandlerFunc(srv.handleAdminReadOnly)))

	adminMux.Handle("/admin/shutdown", jsonOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "shutting down"})
		go func() {
			// give the response a moment to flush
			time.Sleep(200 * time.Millisecond)
			proc, _ := os.FindProcess(os.Getpid())
			_ = proc.Signal(os.Interrupt)
		}()
	})))

	// HTTP servers
	publicSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: publicMux,
	}

	// Bind admin to 127.0.0.1 only (loopback enforcement)
	adminListener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", adminPort))
	if err != nil {
		return fmt.Errorf("admin listener bind failed (loopback only): %w", err)
	}
	adminSrv := &http.Server{
		Handler: adminMux,
	}

	// Run servers
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer stop()

	errCh := make(chan error, 2)

	go func() {
		log.Printf("public server listening on :%d (db: %s)", port, dbPath)
		if err := publicSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("public server error: %w", err)
		}
	}()

	go func() {
		log.Printf("admin server listening on 127.0.0.1:%d (JSON-only)", adminPort)
		if err := adminSrv.Serve(adminListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("admin server error: %w", err)
		}
	}()

	// Optional run timer
	if exitAfter > 0 {
		go func() {
			log.Printf("exit-after timer set: %s", exitAfter)
			time.Sleep(exitAfter)
			proc, _ := os.FindProcess(os.Getpid())
			_ = proc.Signal(os.Interrupt)
		}()
	}

	select {
	case <-ctx.Done():
		// graceful shutdown
	case err := <-errCh:
		log.Printf("server error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTO)
	defer cancel()

	_ = publicSrv.Shutdown(shutdownCtx)
	_ = adminSrv.Shutdown(shutdownCtx)
	log.Printf("shutdown complete")
	return nil
}

// --- Public handlers ---

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.mu.Lock()
	items := s.list.Items()
	s.mu.Unlock()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := listPage.Execute(w, items); err != nil {
		log.Printf("render list: %v", err)
	}
}

func (s *server) handleAdd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.Lock()
	err := s.list.Add(r.Context(), r.FormValue("name"), r.FormValue("description"))
	s.mu.Unlock()
	if err != nil {
		writeActionError(w, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := strconv.ParseInt(r.FormValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	err = s.list.Update(r.Context(), id, r.FormValue("name"), r.FormValue("description"))
	s.mu.Unlock()
	if err != nil {
		writeActionError(w, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := strconv.ParseInt(r.FormValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	err = s.list.Remove(r.Context(), id)
	s.mu.Unlock()
	if err != nil {
		writeActionError(w, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	state, err := s.st.CheckState(r.Context())
	if err != nil || state != store.StateReady {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("NOT READY"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("READY"))
}

func writeActionError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrReadOnly) {
		http.Error(w, "datastore is in read-only mode", http.StatusForbidden)
		return
	}
	log.Printf("item action failed: %v", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// --- Admin handlers ---

func (s *server) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	schemaVersion, err := s.st.SchemaVersion(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	s.mu.Lock()
	mode := "running"
	if s.readOnly {
		mode = "read-only"
	}
	s.mu.Unlock()
	now := time.Now().UTC().Format(time.RFC3339)
	resp := map[string]any{
		"version":       version.String(),
		"schemaVersion": schemaVersion,
		"buildDate":     buildDate,
		"time":          now,
		"mode":          mode,
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *server) handleAdminItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.st.ListAll(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
}

// handleAdminReadOnly reports or toggles read-only mode for the rest of the
// process lifetime. The flag is never persisted.
func (s *server) handleAdminReadOnly(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.mu.Lock()
		ro := s.readOnly
		s.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]bool{"readOnly": ro})
	case http.MethodPost:
		var payload struct {
			ReadOnly bool `json:"readOnly"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
			return
		}
		s.mu.Lock()
		s.readOnly = payload.ReadOnly
		s.st.SetReadOnly(payload.ReadOnly)
		s.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]bool{"readOnly": payload.ReadOnly})
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET or POST only")
	}
}

// jsonOnly enforces JSON-only contract for admin routes.
func jsonOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Require Accept: application/json (at least for admin)
		accept := r.Header.Get("Accept")
		if !strings.Contains(accept, "application/json") && accept != "" {
			writeJSONError(w, http.StatusNotAcceptable, "not_acceptable", "Accept must include application/json")
			return
		}
		if r.Method != http.MethodGet && !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "Content-Type must be application/json")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": msg,
	})
}

// --- DB commands ---

func runDBCreate(cmd *cobra.Command, args []string) error {
	st := newStore()
	if err := st.EnsureSchema(cmd.Context()); err != nil {
		return fmt.Errorf("db create: %w", err)
	}
	log.Printf("db create: items schema ready at %s", dbPath)
	return nil
}

func runDBUpgrade(cmd *cobra.Command, args []string) error {
	st := newStore()
	before, err := st.SchemaVersion(cmd.Context())
	if err != nil {
		return fmt.Errorf("db upgrade: %w", err)
	}
	if err := st.UpgradeSchema(cmd.Context(), store.TargetSchemaVersion); err != nil {
		return fmt.Errorf("db upgrade: %w", err)
	}
	after, err := st.SchemaVersion(cmd.Context())
	if err != nil {
		return fmt.Errorf("db upgrade: %w", err)
	}
	log.Printf("db upgrade: schema version %d -> %d (target %d)", before, after, store.TargetSchemaVersion)
	return nil
}

func runDBVerify(cmd *cobra.Command, args []string) error {
	st := newStore()
	state, err := st.CheckState(cmd.Context())
	if err != nil {
		return fmt.Errorf("db verify: %w", err)
	}
	summary := map[string]any{
		"path":          dbPath,
		"state":         state.String(),
		"targetVersion": store.TargetSchemaVersion,
	}
	if state != store.StateMissing {
		schemaVersion, err := st.SchemaVersion(cmd.Context())
		if err != nil {
			return fmt.Errorf("db verify: %w", err)
		}
		summary["schemaVersion"] = schemaVersion
	}
	return json.NewEncoder(cmd.OutOrStdout()).Encode(summary)
}
