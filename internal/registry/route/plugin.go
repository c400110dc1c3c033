// Package route sequences HTTP route mounting. The memory API packages
// register placeholder loaders here for ordering and expose MountRoutes
// functions the serve command calls once the store and services exist;
// management routes (health, ready, metrics) mount last.
package route

import (
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
)

// RouterLoader initializes routes on the gin engine.
type RouterLoader func(r *gin.Engine) error

// RouteType distinguishes API routes from operational ones.
type RouteType int

const (
	// RouteTypeMain is the memory API surface.
	RouteTypeMain RouteType = iota
	// RouteTypeManagement is the health/ready/metrics surface. It mounts on
	// the main server; there is no dedicated management port.
	RouteTypeManagement
)

// Plugin is one route package with its mount position.
type Plugin struct {
	Order  int
	Type   RouteType
	Loader RouterLoader
}

var (
	plugins  []Plugin
	sortOnce sync.Once
)

// Register adds a route plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

func sorted() []Plugin {
	sortOnce.Do(func() {
		sort.Slice(plugins, func(i, j int) bool { return plugins[i].Order < plugins[j].Order })
	})
	return plugins
}

func loadersOf(t RouteType) []RouterLoader {
	var loaders []RouterLoader
	for _, p := range sorted() {
		if p.Type == t {
			loaders = append(loaders, p.Loader)
		}
	}
	return loaders
}

// MainRouteLoaders returns the API route loaders in mount order.
func MainRouteLoaders() []RouterLoader {
	return loadersOf(RouteTypeMain)
}

// ManagementRouteLoaders returns the operational route loaders in mount order.
func ManagementRouteLoaders() []RouterLoader {
	return loadersOf(RouteTypeManagement)
}
