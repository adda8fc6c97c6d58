// Package migrations embeds the rollout store's goose migration set so
// internal/rollout can run them against a fresh database file without a
// separate CLI step (spec §6's rollout recorder is "opaque" on disk
// format; this is that format's schema history).
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
