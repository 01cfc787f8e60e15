package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication. Only infrastructure probes, the metrics
// scrape endpoint and the API description live here.
var publicPaths = map[string]bool{
	"/health":       true,
	"/health/db":    true,
	"/metrics":      true,
	"/openapi.json": true,
}

// AuthSkipper returns true for requests whose route should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Path()) || IsPublicPath(c.Request().URL.Path)
}

func IsPublicPath(path string) bool {
	return publicPaths[path]
}
