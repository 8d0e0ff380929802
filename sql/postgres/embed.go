// Package postgres embeds the Postgres migrations used by the outbox stores
// and the example orders module.
package postgres

import "embed"

//go:embed *.sql
var Migrations embed.FS

// UpScripts lists the up migrations in the order they must be applied.
var UpScripts = []string{
	"000001_outbox.up.sql",
	"000002_orders.up.sql",
}
