// Package migrations embeds the long-term memory schema, one directory per
// SQL dialect. Files are applied in lexical order of their numeric prefix.
package migrations

import "embed"

// Files 暴露所有 SQL 迁移文件，按方言分目录存放。
//
//go:embed sqlite/*.sql mysql/*.sql
var Files embed.FS
