package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/user/puppy/internal/db"
	"github.com/user/puppy/internal/repl"
	"github.com/user/puppy/internal/session"
)

type projectStore interface {
	Create(ctx context.Context, name, templateID string, metadata map[string]string) (*db.Project, error)
	List(ctx context.Context) ([]*db.Project, error)
	Files(ctx context.Context, name string) ([]string, error)
	ReadFile(ctx context.Context, name, relPath string) (string, error)
	WriteFile(ctx context.Context, name, relPath, text string) error
}

type workbench interface {
	Run(ctx context.Context, projectName string) error
	Kill(ctx context.Context, projectName string) error
	Status(ctx context.Context, projectName string) (*session.Status, error)
	Runs(ctx context.Context, projectName string, limit int) ([]*db.Run, error)
	Device() session.DeviceStatus
	OpenREPL(port string) (string, error)
	CloseREPL() error
	SendKey(pane string, key repl.Key) error
	SendText(pane string, text string) error
}

type handler struct {
	projects projectStore
	wb       workbench
}

func NewRouter(projects projectStore, wb workbench, token string) http.Handler {
	handler := &handler{
		projects: projects,
		wb:       wb,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/templates", handler.listTemplates)

	mux.HandleFunc("POST /api/projects", handler.createProject)
	mux.HandleFunc("GET /api/projects", handler.listProjects)
	mux.HandleFunc("GET /api/projects/{name}", handler.getProject)
	mux.HandleFunc("POST /api/projects/{name}/run", handler.runProject)
	mux.HandleFunc("POST /api/projects/{name}/kill", handler.killProject)
	mux.HandleFunc("GET /api/projects/{name}/runs", handler.listRuns)
	mux.HandleFunc("GET /api/projects/{name}/files", handler.listFiles)
	mux.HandleFunc("GET /api/projects/{name}/files/{path...}", handler.readFile)
	mux.HandleFunc("PUT /api/projects/{name}/files/{path...}", handler.writeFile)

	mux.HandleFunc("GET /api/device", handler.getDevice)
	mux.HandleFunc("POST /api/repl/open", handler.openREPL)
	mux.HandleFunc("POST /api/repl/close", handler.closeREPL)
	mux.HandleFunc("POST /api/repl/keys", handler.sendKeys)

	wrapped := authMiddleware(token)(jsonMiddleware(corsMiddleware(mux)))
	return wrapped
}

func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				if strings.TrimSpace(authHeader[7:]) == token {
					next.ServeHTTP(w, r)
					return
				}
			}

			if r.URL.Query().Get("token") == token {
				next.ServeHTTP(w, r)
				return
			}

			jsonError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// maxBodySize leaves room for a project file at its size cap once escaped.
const maxBodySize = 4 << 20

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return io.ErrUnexpectedEOF
	}
	return nil
}

// decodeOptionalJSON accepts an empty body as the zero value.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.ContentLength == 0 {
		return nil
	}
	err := decodeJSON(r, dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
