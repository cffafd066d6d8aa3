// Package migrations holds the SQL schema for the Postgres key store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
