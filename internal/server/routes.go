package server

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/roach88/choreo/internal/concepts/requesting"
	"github.com/roach88/choreo/internal/ir"
)

// RoutePrefix is the path prefix of concept routes.
const RoutePrefix = "/api"

//go:embed passthrough.toml
var defaultRoutesTOML []byte

// Routes decides which concept routes bypass the rules.
type Routes struct {
	// Inclusions maps a passthrough route to its justification.
	Inclusions map[string]string `toml:"inclusions"`

	// Exclusions are routes that always go through Requesting.request.
	Exclusions []string `toml:"exclusions"`
}

// Route returns the route of an action reference.
func Route(ref ir.ActionRef) string {
	return RoutePrefix + "/" + ref.Concept() + "/" + ref.Name()
}

// ParseRoutes decodes a route table. Unknown keys are rejected.
func ParseRoutes(data []byte) (Routes, error) {
	var r Routes
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&r); err != nil {
		return Routes{}, fmt.Errorf("parse routes: %w", err)
	}
	if r.Inclusions == nil {
		r.Inclusions = map[string]string{}
	}
	return r, nil
}

// LoadRoutes reads a route table file.
func LoadRoutes(path string) (Routes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Routes{}, fmt.Errorf("read routes: %w", err)
	}
	return ParseRoutes(data)
}

// DefaultRoutes returns the built-in route table.
func DefaultRoutes() Routes {
	r, err := ParseRoutes(defaultRoutesTOML)
	if err != nil {
		panic(fmt.Sprintf("embedded passthrough.toml: %v", err))
	}
	return r
}

// Passthrough reports whether route calls its concept directly.
func (r Routes) Passthrough(route string) bool {
	_, ok := r.Inclusions[route]
	return ok
}

// Check validates the table against the actions the concepts expose and
// returns the routes the table does not mention, sorted.
//
// An inclusion must name an existing action, carry a justification, and not
// also be excluded. Requesting's own actions are never passthrough.
func (r Routes) Check(sigs map[ir.ActionRef]ir.ActionSig) (unlisted []string, err error) {
	known := make(map[string]bool, len(sigs))
	for ref := range sigs {
		known[Route(ref)] = true
	}

	var errs []error
	for route, why := range r.Inclusions {
		switch {
		case !known[route]:
			errs = append(errs, fmt.Errorf("inclusion %s: no such action", route))
		case strings.HasPrefix(route, RoutePrefix+"/"+requesting.Name+"/"):
			errs = append(errs, fmt.Errorf("inclusion %s: %s actions cannot be passed through", route, requesting.Name))
		case strings.TrimSpace(why) == "":
			errs = append(errs, fmt.Errorf("inclusion %s: justification is required", route))
		case slices.Contains(r.Exclusions, route):
			errs = append(errs, fmt.Errorf("route %s is both included and excluded", route))
		}
	}
	if len(errs) > 0 {
		slices.SortFunc(errs, func(a, b error) int { return strings.Compare(a.Error(), b.Error()) })
		return nil, errors.Join(errs...)
	}

	for ref := range sigs {
		route := Route(ref)
		if ref.Concept() == requesting.Name || r.Passthrough(route) || slices.Contains(r.Exclusions, route) {
			continue
		}
		unlisted = append(unlisted, route)
	}
	slices.Sort(unlisted)
	return unlisted, nil
}
