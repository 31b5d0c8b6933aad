package longterm

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/Ardavaa/jarvis-agent/internal/errors"
	"github.com/Ardavaa/jarvis-agent/pkg/logger"
)

type stepClock struct {
	current time.Time
}

func (c *stepClock) now() time.Time {
	c.current = c.current.Add(time.Second)
	return c.current
}

func newTestStore(t *testing.T, dsn string) *SQLStore {
	t.Helper()
	clock := &stepClock{current: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	store, err := Open(context.Background(), Config{Driver: DriverSQLite, DSN: dsn},
		WithLogger(logger.Discard()), WithClock(clock.now))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestConversationLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, ":memory:")

	id, err := store.CreateConversation(ctx, "alice")
	require.NoError(t, err)
	require.NotZero(t, id)

	created, err := store.GetConversation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", created.UserID)

	_, err = store.SaveMessage(ctx, id, "user", "hello", map[string]any{"source": "test"})
	require.NoError(t, err)
	_, err = store.SaveMessage(ctx, id, "assistant", "hi there", nil)
	require.NoError(t, err)

	updated, err := store.GetConversation(ctx, id)
	require.NoError(t, err)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt), "保存消息应刷新 updated_at")

	msgs, err := store.ConversationMessages(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "test", msgs[0].Metadata["source"])
	assert.Equal(t, "hi there", msgs[1].Content)
	assert.Nil(t, msgs[1].Metadata)

	latest, err := store.ConversationMessages(ctx, id, 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "hi there", latest[0].Content)
}

func TestGetConversationNotFound(t *testing.T) {
	store := newTestStore(t, ":memory:")
	_, err := store.GetConversation(context.Background(), 42)
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeNotFound, xerrors.CodeOf(err))
}

func TestUserConversationsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, ":memory:")

	first, err := store.CreateConversation(ctx, "bob")
	require.NoError(t, err)
	second, err := store.CreateConversation(ctx, "bob")
	require.NoError(t, err)
	_, err = store.CreateConversation(ctx, "carol")
	require.NoError(t, err)

	_, err = store.SaveMessage(ctx, first, "user", "bump", nil)
	require.NoError(t, err)

	convs, err := store.UserConversations(ctx, "bob", 0)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, first, convs[0].ID)
	assert.Equal(t, second, convs[1].ID)
}

func TestPreferencesUpsert(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, ":memory:")

	prefs, err := store.Preferences(ctx, "dave")
	require.NoError(t, err)
	assert.Empty(t, prefs)

	require.NoError(t, store.SavePreferences(ctx, "dave", map[string]any{"language": "en"}))
	require.NoError(t, store.SavePreferences(ctx, "dave", map[string]any{"language": "id", "voice": true}))

	prefs, err = store.Preferences(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, "id", prefs["language"])
	assert.Equal(t, true, prefs["voice"])
}

func TestTaskHistory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, ":memory:")

	convA, err := store.CreateConversation(ctx, "erin")
	require.NoError(t, err)
	convB, err := store.CreateConversation(ctx, "erin")
	require.NoError(t, err)

	_, err = store.SaveTask(ctx, TaskRecord{
		ConversationID: convA,
		Description:    "send the report",
		ToolsUsed:      []string{"send_email"},
		Status:         TaskCompleted,
		Result:         map[string]any{"response": "sent", "iterations": 2},
	})
	require.NoError(t, err)
	_, err = store.SaveTask(ctx, TaskRecord{ConversationID: convB, Description: "book a room", Status: TaskFailed})
	require.NoError(t, err)

	all, err := store.TaskHistory(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "book a room", all[0].Description)
	assert.Equal(t, []string{}, all[0].ToolsUsed)

	onlyA, err := store.TaskHistory(ctx, convA, 10)
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	assert.Equal(t, []string{"send_email"}, onlyA[0].ToolsUsed)
	assert.Equal(t, TaskCompleted, onlyA[0].Status)
	assert.Equal(t, "sent", onlyA[0].Result["response"])
	assert.EqualValues(t, 2, onlyA[0].Result["iterations"])
}

func TestInteractionLogs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, ":memory:")

	_, err := store.LogInteraction(ctx, "frank", InteractionChat, map[string]any{"iterations": 1})
	require.NoError(t, err)
	_, err = store.LogInteraction(ctx, "frank", "voice", nil)
	require.NoError(t, err)
	_, err = store.LogInteraction(ctx, "grace", InteractionChat, nil)
	require.NoError(t, err)

	logs, err := store.InteractionLogs(ctx, "frank", "", 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "voice", logs[0].Type)

	chats, err := store.InteractionLogs(ctx, "frank", InteractionChat, 0)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.EqualValues(t, 1, chats[0].Metadata["iterations"])
}

func TestMigrationsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jarvis.db")

	first := newTestStore(t, path)
	id, err := first.CreateConversation(ctx, "henry")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := newTestStore(t, path)
	conv, err := second.GetConversation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "henry", conv.UserID)
}

func TestLoadMigrationFilesSortsByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"sqlite/0002_b.sql": {Data: []byte("CREATE TABLE b (id INT);")},
		"sqlite/0001_a.sql": {Data: []byte("CREATE TABLE a (id INT);\nCREATE TABLE c (id INT);")},
		"sqlite/README.md":  {Data: []byte("ignored")},
		"sqlite/0003_e.sql": {Data: []byte("  ;  ")},
	}
	files, err := loadMigrationFiles(fsys, "sqlite")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "0001", files[0].version)
	assert.Len(t, files[0].statements, 2)
	assert.Equal(t, "0002", files[1].version)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "postgres", DSN: "x"})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))
}
