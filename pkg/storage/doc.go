// Package storage defines the document store used for retrieval and the
// helpers shared by its adapters: sentinel errors, tenant context and
// vector ranking.
//
// Adapters live in subpackages: memory (LRU bounded, process lifetime),
// sqlite (single file, pure Go driver) and postgres (pgx pool with
// embedded migrations).
package storage
