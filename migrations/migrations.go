// Package migrations embeds the goose SQL migrations so binaries and tests
// can apply schema changes without a checkout-relative path.
package migrations

import "embed"

//go:embed *.sql
var Embed embed.FS
