// Package migrations carries the control-plane schema. The files are
// embedded so the binaries run from any working directory.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
