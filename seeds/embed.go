// Package seeds ships the SQL seed files inside the binary.
package seeds

import "embed"

//go:embed *.sql
var Files embed.FS
