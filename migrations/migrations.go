// Package migrations embeds the SQL schema files so the migration runner and
// the integration-test container manager apply the same schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
