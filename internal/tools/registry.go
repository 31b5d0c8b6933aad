package tools

import (
	"fmt"
	"sort"
	"strings"
)

// Service 标识一个后端工具服务。
type Service string

const (
	ServiceMemoryDB     Service = "memory_db"
	ServiceVectorDB     Service = "vector_db"
	ServiceMessaging    Service = "messaging"
	ServiceCalendar     Service = "calendar"
	ServiceMail         Service = "mail"
	ServiceOSAutomation Service = "os_automation"
	ServiceVoice        Service = "voice"
)

// Services 返回全部服务，顺序固定。
func Services() []Service {
	return []Service{
		ServiceMemoryDB,
		ServiceVectorDB,
		ServiceMessaging,
		ServiceCalendar,
		ServiceMail,
		ServiceOSAutomation,
		ServiceVoice,
	}
}

// Valid 判断服务是否属于已知枚举。
func (s Service) Valid() bool {
	for _, known := range Services() {
		if s == known {
			return true
		}
	}
	return false
}

// Name 是工具名称。
type Name string

const (
	SaveConversation   Name = "save_conversation"
	GetUserPreferences Name = "get_user_preferences"
	LogInteraction     Name = "log_interaction"
	GetTaskHistory     Name = "get_task_history"

	StoreEmbedding  Name = "store_embedding"
	SemanticSearch  Name = "semantic_search"
	RetrieveContext Name = "retrieve_context"

	SendTelegramMessage      Name = "send_telegram_message"
	GetTelegramUpdates       Name = "get_telegram_updates"
	SendTelegramNotification Name = "send_telegram_notification"

	ListCalendarEvents  Name = "list_calendar_events"
	CreateCalendarEvent Name = "create_calendar_event"
	UpdateCalendarEvent Name = "update_calendar_event"
	DeleteCalendarEvent Name = "delete_calendar_event"

	ListEmails       Name = "list_emails"
	ReadEmail        Name = "read_email"
	CreateEmailDraft Name = "create_email_draft"
	SendEmail        Name = "send_email"

	OpenApplication  Name = "open_application"
	CloseApplication Name = "close_application"
	RunPowerShell    Name = "run_powershell"
	ManageFiles      Name = "manage_files"

	TranscribeAudio  Name = "transcribe_audio"
	SynthesizeSpeech Name = "synthesize_speech"
)

// Spec 描述一个工具的路由与参数约束。
type Spec struct {
	Name        Name     `json:"name"`
	Service     Service  `json:"service"`
	Required    []string `json:"required,omitempty"`
	Description string   `json:"description"`
}

var catalog = []Spec{
	{SaveConversation, ServiceMemoryDB, []string{"conversation_id", "messages"}, "Persist a conversation transcript"},
	{GetUserPreferences, ServiceMemoryDB, []string{"user_id"}, "Fetch stored preferences for a user"},
	{LogInteraction, ServiceMemoryDB, []string{"user_id", "interaction_type", "metadata"}, "Record an interaction event"},
	{GetTaskHistory, ServiceMemoryDB, []string{"user_id", "limit"}, "List recently executed tasks"},

	{StoreEmbedding, ServiceVectorDB, []string{"text", "metadata"}, "Store text in the vector database"},
	{SemanticSearch, ServiceVectorDB, []string{"query", "limit"}, "Search stored text by meaning"},
	{RetrieveContext, ServiceVectorDB, []string{"query", "limit"}, "Retrieve formatted context for a query"},

	{SendTelegramMessage, ServiceMessaging, []string{"message", "chat_id"}, "Send a Telegram message to a chat"},
	{GetTelegramUpdates, ServiceMessaging, nil, "Fetch new Telegram messages"},
	{SendTelegramNotification, ServiceMessaging, []string{"message"}, "Send a notification to the owner's Telegram"},

	{ListCalendarEvents, ServiceCalendar, []string{"start_date", "end_date"}, "List calendar events in a date range"},
	{CreateCalendarEvent, ServiceCalendar, []string{"title", "start_time", "end_time", "description"}, "Create a calendar event"},
	{UpdateCalendarEvent, ServiceCalendar, []string{"event_id", "updates"}, "Update a calendar event"},
	{DeleteCalendarEvent, ServiceCalendar, []string{"event_id"}, "Delete a calendar event"},

	{ListEmails, ServiceMail, []string{"query", "max_results"}, "Search the mailbox"},
	{ReadEmail, ServiceMail, []string{"email_id"}, "Read one email"},
	{CreateEmailDraft, ServiceMail, []string{"to", "subject", "body"}, "Create an email draft"},
	{SendEmail, ServiceMail, []string{"to", "subject", "body"}, "Send an email"},

	{OpenApplication, ServiceOSAutomation, []string{"app_name"}, "Open a desktop application"},
	{CloseApplication, ServiceOSAutomation, []string{"app_name"}, "Close a desktop application"},
	{RunPowerShell, ServiceOSAutomation, []string{"command"}, "Run a PowerShell command"},
	{ManageFiles, ServiceOSAutomation, []string{"action", "path"}, "Create, move, copy or delete files"},

	{TranscribeAudio, ServiceVoice, []string{"audio_path"}, "Transcribe an audio file to text"},
	{SynthesizeSpeech, ServiceVoice, []string{"text", "output_path"}, "Synthesize speech to an audio file"},
}

var byName map[Name]Spec

func init() {
	index, err := buildIndex(catalog)
	if err != nil {
		panic(err)
	}
	byName = index
}

// buildIndex 校验工具表：名称唯一，且每个工具都路由到已知服务。
func buildIndex(specs []Spec) (map[Name]Spec, error) {
	index := make(map[Name]Spec, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("工具表存在空名称")
		}
		if _, dup := index[spec.Name]; dup {
			return nil, fmt.Errorf("工具 %s 重复注册", spec.Name)
		}
		if !spec.Service.Valid() {
			return nil, fmt.Errorf("工具 %s 路由到未知服务 %q", spec.Name, spec.Service)
		}
		index[spec.Name] = spec
	}
	return index, nil
}

// Lookup 返回工具定义。
func Lookup(name Name) (Spec, bool) {
	spec, ok := byName[name]
	return spec, ok
}

// ServiceOf 返回工具所属服务。
func ServiceOf(name Name) (Service, bool) {
	spec, ok := byName[name]
	return spec.Service, ok
}

// All 返回全部工具定义的副本，按服务与名称排序。
func All() []Spec {
	out := make([]Spec, len(catalog))
	copy(out, catalog)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Service != out[j].Service {
			return out[i].Service < out[j].Service
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Describe 渲染提供给规划器的工具清单。
func Describe() string {
	var b strings.Builder
	var current Service
	for _, spec := range catalog {
		if spec.Service != current {
			if current != "" {
				b.WriteByte('\n')
			}
			current = spec.Service
			fmt.Fprintf(&b, "%s:\n", strings.ToUpper(string(current)))
		}
		fmt.Fprintf(&b, "- %s(%s): %s\n", spec.Name, strings.Join(spec.Required, ", "), spec.Description)
	}
	return b.String()
}
