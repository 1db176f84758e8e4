// Package web serves the embedded dashboard page.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/labstack/echo/v4"
)

//go:embed dist/*
var staticFiles embed.FS

// GetFileSystem returns the embedded filesystem with the dist folder as root.
func GetFileSystem() (fs.FS, error) {
	return fs.Sub(staticFiles, "dist")
}

// RegisterStaticRoutes serves the dashboard for every non-API GET. Unknown
// paths fall back to index.html; unknown /api paths stay 404.
// The API routes should be registered before calling this function.
func RegisterStaticRoutes(e *echo.Echo) error {
	staticFS, err := GetFileSystem()
	if err != nil {
		return err
	}
	index, err := fs.ReadFile(staticFS, "index.html")
	if err != nil {
		return err
	}

	fileServer := http.FileServer(http.FS(staticFS))

	e.GET("/*", func(c echo.Context) error {
		requestPath := path.Clean(c.Request().URL.Path)
		if requestPath == "/api" || strings.HasPrefix(requestPath, "/api/") || requestPath == "/metrics" {
			return echo.ErrNotFound
		}

		name := strings.TrimPrefix(requestPath, "/")
		if name == "" || name == "." {
			return c.HTMLBlob(http.StatusOK, index)
		}

		stat, err := fs.Stat(staticFS, name)
		if err != nil || stat.IsDir() {
			return c.HTMLBlob(http.StatusOK, index)
		}

		fileServer.ServeHTTP(c.Response(), c.Request())
		return nil
	})

	return nil
}

// HasEmbeddedFiles reports whether the dashboard page is present.
func HasEmbeddedFiles() bool {
	_, err := fs.Stat(staticFiles, "dist/index.html")
	return err == nil
}
