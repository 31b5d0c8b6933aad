// Package gateway 把工具调用转发给后端工具服务。
//
// HTTP 使用工具服务自带的 /execute、/health、/tools 接口；
// MCP 为每个服务维护一个 streamable HTTP 会话，通过 CallTool 调用。
// 两者都实现 tools.Invoker。
package gateway
