// Package utils validates input accepted from API clients and workspaces.
package utils
