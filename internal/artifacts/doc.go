// Package artifacts persists generated images in SQLite alongside their files
// on disk.
//
// The Store is the generation gateway's collaborator: it owns the catalog
// rows and the on-disk layout under the artifacts directory. The controller
// layer never touches this package directly; it sees artifacts only through
// the gateway's list/delete surface and its own read-through cache.
package artifacts
