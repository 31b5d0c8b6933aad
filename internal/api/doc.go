// Package api exposes the agent over REST: synchronous chat, queued tasks,
// conversation windows, tool discovery, user memory, health and Prometheus
// metrics. Routing is done with chi.
package api
