package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierhq/atelier/internal/agent"
	"github.com/atelierhq/atelier/internal/store"
	"github.com/atelierhq/atelier/internal/testutil"
)

func TestAssembler_EmptyConversation(t *testing.T) {
	t.Parallel()

	st := testutil.NewMemStore()
	history, err := NewAssembler(st, 40).History(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestAssembler_DropsNewestAndOrdersOldestFirst(t *testing.T) {
	t.Parallel()

	st := testutil.NewMemStore()
	ctx := context.Background()
	conv, err := st.CreateConversation(ctx, "local", "t")
	require.NoError(t, err)

	seed := []struct {
		role    string
		content string
	}{
		{agent.RoleUser, "first question"},
		{agent.RoleAssistant, "first answer"},
		{agent.RoleUser, "second question"},
		{agent.RoleAssistant, "second answer"},
		{agent.RoleUser, "current question"}, // just inserted by the orchestrator
	}
	for _, s := range seed {
		require.NoError(t, st.InsertMessage(ctx, &store.Message{
			ConversationID: conv.ID,
			Role:           s.role,
			Status:         store.StatusSent,
			Content:        s.content,
		}))
	}

	history, err := NewAssembler(st, 40).History(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)

	assert.Equal(t, "first question", history[0].Text)
	assert.Equal(t, agent.RoleUser, history[0].Role)
	assert.Equal(t, "second answer", history[3].Text)
	assert.Equal(t, agent.RoleAssistant, history[3].Role)
}

func TestAssembler_WindowBoundsHistory(t *testing.T) {
	t.Parallel()

	st := testutil.NewMemStore()
	ctx := context.Background()
	conv, err := st.CreateConversation(ctx, "local", "t")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, st.InsertMessage(ctx, &store.Message{
			ConversationID: conv.ID,
			Role:           agent.RoleUser,
			Status:         store.StatusSent,
			Content:        string(rune('a' + i)),
		}))
	}

	history, err := NewAssembler(st, 4).History(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, history, 3, "window includes the just-inserted message")

	// The most recent prior messages survive, oldest-first.
	assert.Equal(t, "g", history[0].Text)
	assert.Equal(t, "i", history[2].Text)
}

func TestAssembler_CarriesImageRefs(t *testing.T) {
	t.Parallel()

	st := testutil.NewMemStore()
	ctx := context.Background()
	conv, err := st.CreateConversation(ctx, "local", "t")
	require.NoError(t, err)

	require.NoError(t, st.InsertMessage(ctx, &store.Message{
		ConversationID:  conv.ID,
		Role:            agent.RoleAssistant,
		Status:          store.StatusSent,
		Content:         "here is the picture",
		GeneratedImages: []agent.ImageRef{{ID: "img-1", URL: "https://files.test/img-1"}},
	}))
	require.NoError(t, st.InsertMessage(ctx, &store.Message{
		ConversationID: conv.ID,
		Role:           agent.RoleUser,
		Status:         store.StatusSent,
		Content:        "make it bigger",
		InputImages:    []string{"https://files.test/img-1"},
	}))

	history, err := NewAssembler(st, 40).History(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Len(t, history[0].GeneratedImages, 1)
	assert.Equal(t, "https://files.test/img-1", history[0].GeneratedImages[0].URL)
}

type failingHistoryStore struct{}

func (failingHistoryStore) RecentMessages(context.Context, uuid.UUID, int32) ([]*store.Message, error) {
	return nil, errors.New("connection refused")
}

func TestAssembler_StoreFailure(t *testing.T) {
	t.Parallel()

	_, err := NewAssembler(failingHistoryStore{}, 40).History(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load history")
}
