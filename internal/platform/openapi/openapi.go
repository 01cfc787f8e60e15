// Package openapi describes the registered HTTP routes as an OpenAPI 3.0
// document.
package openapi

import (
	"net/http"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/labstack/echo/v4"

	"github.com/smmrizwan/hemodialysis-sub001/internal/platform/auth"
)

// Generator builds the document from the routes Echo knows about at request
// time, so handlers registered after the generator still appear.
type Generator struct {
	title   string
	version string
	routes  func() []*echo.Route
}

func NewGenerator(title, version string, routes func() []*echo.Route) *Generator {
	return &Generator{title: title, version: version, routes: routes}
}

var pathParam = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)

var methods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true,
}

// GenerateSpec produces the OpenAPI document as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	routes := g.routes()
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].Method < routes[j].Method
	})

	paths := make(map[string]interface{})
	for _, r := range routes {
		if !methods[r.Method] || strings.HasSuffix(r.Path, "/*") {
			continue
		}
		path := pathParam.ReplaceAllString(r.Path, "{$1}")
		item, _ := paths[path].(map[string]interface{})
		if item == nil {
			item = make(map[string]interface{})
			paths[path] = item
		}
		item[strings.ToLower(r.Method)] = operation(r)
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":   g.title,
			"version": g.version,
		},
		"paths": paths,
		"components": map[string]interface{}{
			"securitySchemes": map[string]interface{}{
				"bearerAuth": map[string]interface{}{
					"type":         "http",
					"scheme":       "bearer",
					"bearerFormat": "JWT",
				},
			},
		},
		"security": []map[string][]string{{"bearerAuth": {}}},
	}
}

func operation(r *echo.Route) map[string]interface{} {
	name := handlerName(r.Name)
	op := map[string]interface{}{
		"tags":      []string{tag(r.Path)},
		"responses": responses(r.Method),
	}
	if name != "" {
		op["operationId"] = name
		op["summary"] = sentence(name)
	}

	var params []map[string]interface{}
	for _, m := range pathParam.FindAllStringSubmatch(r.Path, -1) {
		params = append(params, map[string]interface{}{
			"name":     m[1],
			"in":       "path",
			"required": true,
			"schema":   map[string]string{"type": "string"},
		})
	}
	if len(params) > 0 {
		op["parameters"] = params
	}

	if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
		op["requestBody"] = map[string]interface{}{
			"content": map[string]interface{}{
				"application/json": map[string]interface{}{
					"schema": map[string]string{"type": "object"},
				},
			},
		}
	}
	if auth.IsPublicPath(r.Path) {
		op["security"] = []map[string][]string{}
	}
	return op
}

func responses(method string) map[string]interface{} {
	ok := "200"
	if method == http.MethodDelete {
		ok = "204"
	}
	return map[string]interface{}{
		ok:    map[string]string{"description": "Success"},
		"400": map[string]string{"description": "Invalid request"},
		"401": map[string]string{"description": "Missing or invalid token"},
		"404": map[string]string{"description": "Not found"},
	}
}

// tag is the first path segment after the version, e.g. "patients".
func tag(path string) string {
	rest := strings.TrimPrefix(path, "/api/v1/")
	seg, _, _ := strings.Cut(strings.TrimPrefix(rest, "/"), "/")
	if seg == "" {
		return "default"
	}
	return seg
}

// handlerName turns "pkg/labs.(*Handler).CreatePanel-fm" into "CreatePanel".
// Anonymous handlers yield "".
func handlerName(full string) string {
	name := full[strings.LastIndex(full, ".")+1:]
	name = strings.TrimSuffix(name, "-fm")
	if name == "" || strings.HasPrefix(name, "func") || !unicode.IsUpper(rune(name[0])) {
		return ""
	}
	return name
}

// sentence splits a CamelCase name: "GetSummary" -> "Get summary".
func sentence(name string) string {
	var b strings.Builder
	for i, r := range name {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte(' ')
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// RegisterRoutes serves the document at /openapi.json.
func (g *Generator) RegisterRoutes(e *echo.Echo) {
	e.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec())
	})
}
