// Package longterm 提供长期记忆的持久化存储。
//
// SQLStore 基于 database/sql，支持 sqlite（modernc.org/sqlite，默认）与 mysql
// 两种驱动，启动时按方言执行 deploy/migrations 中的嵌入式迁移。
// 每个操作都会获取独立的 *sql.Conn 并在所有路径上释放。
package longterm
