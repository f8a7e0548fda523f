// Package migrations embebe el schema SQL del registry.
package migrations

import "embed"

//go:embed postgres/*.sql
var FS embed.FS

const Dir = "postgres"
