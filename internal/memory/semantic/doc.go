// Package semantic 实现基于向量检索的语义记忆。
//
// Memory 负责调用 llm.Embedder 生成向量，Store 负责存储与近邻查询。
// 默认的 Store 实现为 chromem-go，可持久化到磁盘，也可只驻留内存。
package semantic
