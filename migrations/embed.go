// Package migrations embeds the schema and seed SQL applied by cmd/migrate.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed sql/*.sql
var schema embed.FS

//go:embed seeds/*.sql
var seeds embed.FS

// Schema returns the versioned migration files.
func Schema() fs.FS {
	sub, err := fs.Sub(schema, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// Seeds returns the optional seed files.
func Seeds() fs.FS {
	sub, err := fs.Sub(seeds, "seeds")
	if err != nil {
		panic(err)
	}
	return sub
}
