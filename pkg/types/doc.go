// Package types defines the entity kinds, content values, cursors, capability
// interfaces, and standard errors shared by the cupboard tools packages.
// The router, provider, SQLite backend, converters, and adapters all speak
// in these types; none of them depend on each other's internals.
package types
