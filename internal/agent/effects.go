package agent

import (
	"context"
	"log/slog"

	xerrors "github.com/Ardavaa/jarvis-agent/internal/errors"
	"github.com/Ardavaa/jarvis-agent/internal/llm"
	"github.com/Ardavaa/jarvis-agent/internal/memory/longterm"
)

// recordEffects 把运行状态投影到各层记忆。持久化失败只记录日志，不影响已生成的回复。
func (a *Agent) recordEffects(ctx context.Context, state *State) {
	a.shortTerm.Append(state.ConversationID, llm.RoleUser, state.Message, nil)
	a.shortTerm.Append(state.ConversationID, llm.RoleAssistant, state.FinalResponse, nil)

	if _, err := a.longTerm.SaveMessage(ctx, state.DurableID, llm.RoleUser, state.Message, nil); err != nil {
		a.effectFailed("保存用户消息失败", state, err)
	}
	if _, err := a.longTerm.SaveMessage(ctx, state.DurableID, llm.RoleAssistant, state.FinalResponse, nil); err != nil {
		a.effectFailed("保存助手回复失败", state, err)
	}

	toolsUsed := state.toolNames()
	if len(state.ToolCalls) > 0 {
		status := longterm.TaskCompleted
		if state.Reason == ReasonExhausted {
			status = longterm.TaskFailed
		}
		if _, err := a.longTerm.SaveTask(ctx, longterm.TaskRecord{
			ConversationID: state.DurableID,
			Description:    state.Message,
			ToolsUsed:      toolsUsed,
			Status:         status,
			Result: map[string]any{
				"response":   state.FinalResponse,
				"iterations": state.Iteration,
			},
		}); err != nil {
			a.effectFailed("保存任务记录失败", state, err)
		}
	}

	if _, err := a.longTerm.LogInteraction(ctx, state.UserID, longterm.InteractionChat, map[string]any{
		"conversation_id": state.ConversationID,
		"iterations":      state.Iteration,
		"tools_used":      len(state.ToolCalls),
	}); err != nil {
		a.effectFailed("记录交互日志失败", state, err)
	}
	a.audit.Info("interaction",
		slog.String("type", longterm.InteractionChat),
		slog.String("user_id", state.UserID),
		slog.String("conversation_id", state.ConversationID),
		slog.String("reason", string(state.Reason)),
		slog.Int("iterations", state.Iteration),
		slog.Any("tools_used", toolsUsed))

	if a.semantic != nil {
		if _, err := a.semantic.IngestConversation(ctx, state.ConversationID, state.UserID, []llm.Turn{
			{Role: llm.RoleUser, Content: state.Message},
			{Role: llm.RoleAssistant, Content: state.FinalResponse},
		}); err != nil {
			a.effectFailed("写入语义记忆失败", state, err)
		}
	}
}

// recordError 尽力记录致歉回复并构造错误响应，自身不会失败。
func (a *Agent) recordError(ctx context.Context, state *State, err error) *Response {
	response := "I encountered an error: " + xerrors.UserMessage(err)

	a.shortTerm.Append(state.ConversationID, llm.RoleAssistant, response, nil)
	if state.DurableID != 0 {
		if _, saveErr := a.longTerm.SaveMessage(ctx, state.DurableID, llm.RoleAssistant, response,
			map[string]any{"error": err.Error()}); saveErr != nil {
			a.effectFailed("保存错误回复失败", state, saveErr)
		}
	}
	a.audit.Warn("interaction",
		slog.String("type", longterm.InteractionChat),
		slog.String("user_id", state.UserID),
		slog.String("conversation_id", state.ConversationID),
		slog.String("code", string(xerrors.CodeOf(err))),
		slog.Int("iterations", state.Iteration))

	return &Response{
		Response:       response,
		ConversationID: state.ConversationID,
		Iterations:     state.Iteration,
		Error:          err.Error(),
	}
}

func (a *Agent) effectFailed(msg string, state *State, err error) {
	a.logger.Warn(msg,
		slog.String("conversation_id", state.ConversationID),
		slog.Int64("durable_id", state.DurableID),
		slog.String("error", err.Error()))
}

func (a *Agent) memoryStats(ctx context.Context, conversationID string) *MemoryStats {
	stats := &MemoryStats{ShortTerm: a.shortTerm.Summary(conversationID)}
	if a.semantic != nil {
		n, err := a.semantic.Count(ctx)
		if err != nil {
			a.logger.Debug("统计语义记忆失败", slog.String("error", err.Error()))
		}
		stats.Semantic = &SemanticStats{TotalMemories: n}
	}
	return stats
}
