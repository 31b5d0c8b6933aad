package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Ardavaa/jarvis-agent/internal/agent"
	xerrors "github.com/Ardavaa/jarvis-agent/internal/errors"
	"github.com/Ardavaa/jarvis-agent/internal/memory/shortterm"
	"github.com/Ardavaa/jarvis-agent/internal/task"
	"github.com/Ardavaa/jarvis-agent/internal/tools"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "healthy"}
	if s.toolHealth != nil {
		services := s.toolHealth.Health(r.Context())
		body["services"] = services
		for _, ok := range services {
			if !ok {
				body["status"] = "degraded"
				break
			}
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// handleChat 同步执行一次运行。运行内部出错时仍返回 200 与致歉回复，Error 字段给出原因。
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeMessage(w, http.StatusServiceUnavailable, "Agent 未初始化")
		return
	}
	var req agent.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.runner.Run(r.Context(), req)
	if err != nil && resp == nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type submitTaskRequest struct {
	TaskID string `json:"task_id,omitempty"`
	agent.Request
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeMessage(w, http.StatusServiceUnavailable, "任务服务未启用")
		return
	}
	var req submitTaskRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	t, err := s.tasks.Submit(r.Context(), req.TaskID, req.Request)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, t)
}

func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeMessage(w, http.StatusServiceUnavailable, "任务服务未启用")
		return
	}
	t, err := s.tasks.Get(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func taskFilters(r *http.Request) []task.ListOption {
	q := r.URL.Query()
	opts := []task.ListOption{
		task.WithLimit(queryInt(r, "limit", 20)),
		task.WithOffset(queryInt(r, "offset", 0)),
		task.WithConversation(q.Get("conversation_id")),
		task.WithQuery(q.Get("q")),
	}
	if raw := q.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			statuses = append(statuses, task.Status(strings.TrimSpace(part)))
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if q.Get("order") == "asc" {
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	}
	return opts
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeMessage(w, http.StatusServiceUnavailable, "任务服务未启用")
		return
	}
	list, err := s.tasks.List(r.Context(), taskFilters(r)...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": list})
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeMessage(w, http.StatusServiceUnavailable, "任务服务未启用")
		return
	}
	stats, err := s.tasks.Stats(r.Context(), taskFilters(r)...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListConversations(w http.ResponseWriter, _ *http.Request) {
	if s.shortTerm == nil {
		writeMessage(w, http.StatusServiceUnavailable, "短期记忆未启用")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": s.shortTerm.Conversations()})
}

type conversationView struct {
	ConversationID string             `json:"conversation_id"`
	Messages       []shortterm.Record `json:"messages"`
	Summary        shortterm.Summary  `json:"summary"`
}

func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	if s.shortTerm == nil {
		writeMessage(w, http.StatusServiceUnavailable, "短期记忆未启用")
		return
	}
	id := chi.URLParam(r, "conversationID")
	messages := s.shortTerm.Recent(id, queryInt(r, "limit", 0))
	if messages == nil {
		messages = []shortterm.Record{}
	}
	writeJSON(w, http.StatusOK, conversationView{
		ConversationID: id,
		Messages:       messages,
		Summary:        s.shortTerm.Summary(id),
	})
}

func (s *Server) handleClearConversation(w http.ResponseWriter, r *http.Request) {
	if s.shortTerm == nil {
		writeMessage(w, http.StatusServiceUnavailable, "短期记忆未启用")
		return
	}
	s.shortTerm.Clear(chi.URLParam(r, "conversationID"))
	w.WriteHeader(http.StatusNoContent)
}

type toolView struct {
	tools.Spec
	Available *bool `json:"available,omitempty"`
}

// handleListTools 返回工具表；配置了 ToolHealth 时附带所属服务的健康状态。
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	var health map[tools.Service]bool
	if s.toolHealth != nil {
		health = s.toolHealth.Health(r.Context())
	}
	specs := tools.All()
	views := make([]toolView, len(specs))
	for i, spec := range specs {
		views[i] = toolView{Spec: spec}
		if health != nil {
			ok := health[spec.Service]
			views[i].Available = &ok
		}
	}
	body := map[string]any{"tools": views}
	if health != nil {
		body["services"] = health
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleUserConversations(w http.ResponseWriter, r *http.Request) {
	if s.longTerm == nil {
		writeMessage(w, http.StatusServiceUnavailable, "长期记忆未启用")
		return
	}
	list, err := s.longTerm.UserConversations(r.Context(), chi.URLParam(r, "userID"), queryInt(r, "limit", 10))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": list})
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	if s.longTerm == nil {
		writeMessage(w, http.StatusServiceUnavailable, "长期记忆未启用")
		return
	}
	userID := chi.URLParam(r, "userID")
	prefs, err := s.longTerm.Preferences(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "preferences": prefs})
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	if s.longTerm == nil {
		writeMessage(w, http.StatusServiceUnavailable, "长期记忆未启用")
		return
	}
	userID := chi.URLParam(r, "userID")
	var prefs map[string]any
	if err := decodeBody(w, r, &prefs); err != nil {
		writeError(w, err)
		return
	}
	if prefs == nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "preferences 必须是 JSON 对象"))
		return
	}
	if err := s.longTerm.SavePreferences(r.Context(), userID, prefs); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "preferences": prefs})
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "无效的 ID: "+raw)
	}
	return id, nil
}

func (s *Server) handleUserInteractions(w http.ResponseWriter, r *http.Request) {
	if s.longTerm == nil {
		writeMessage(w, http.StatusServiceUnavailable, "长期记忆未启用")
		return
	}
	logs, err := s.longTerm.InteractionLogs(r.Context(), chi.URLParam(r, "userID"), r.URL.Query().Get("type"), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"interactions": logs})
}

// handleStoredConversation 返回持久化的会话及其最近消息。
func (s *Server) handleStoredConversation(w http.ResponseWriter, r *http.Request) {
	if s.longTerm == nil {
		writeMessage(w, http.StatusServiceUnavailable, "长期记忆未启用")
		return
	}
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	conv, err := s.longTerm.GetConversation(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	messages, err := s.longTerm.ConversationMessages(r.Context(), id, queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation": conv, "messages": messages})
}

func (s *Server) handleTaskHistory(w http.ResponseWriter, r *http.Request) {
	if s.longTerm == nil {
		writeMessage(w, http.StatusServiceUnavailable, "长期记忆未启用")
		return
	}
	var conversationID int64
	if raw := r.URL.Query().Get("conversation_id"); raw != "" {
		id, err := parseID(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		conversationID = id
	}
	records, err := s.longTerm.TaskHistory(r.Context(), conversationID, queryInt(r, "limit", 10))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": records})
}
