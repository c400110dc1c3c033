package postgres

import _ "embed"

// schemaSQL creates the six memory-item tables with their tenancy
// composite indexes, generated tsvector columns, and GIN indexes. The
// statements are idempotent so the migrator can run on every start.
//
//go:embed db/schema.sql
var schemaSQL string

// ForceImport lets test packages link this package for its init()
// registration without a blank import.
var ForceImport = 0
