package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierhq/atelier/internal/agent"
	"github.com/atelierhq/atelier/internal/store"
	"github.com/atelierhq/atelier/internal/testutil"
)

func TestConversations_CreateAndList(t *testing.T) {
	t.Parallel()

	st := testutil.NewMemStore()
	s := newTestServer(t, serverOptions{store: st})

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/conversations",
		strings.NewReader(`{"title":"trip planning"}`)))
	require.Equal(t, http.StatusCreated, w.Code)

	var created ConversationView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "trip planning", created.Title)
	assert.NotEmpty(t, created.ID)

	w = httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var listed struct {
		Conversations []ConversationView `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed.Conversations, 1)
	assert.Equal(t, created.ID, listed.Conversations[0].ID)
}

func TestConversations_CreateRejectsBadBody(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, serverOptions{})
	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/conversations",
		strings.NewReader("not json")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConversationMessages(t *testing.T) {
	t.Parallel()

	st := testutil.NewMemStore()
	ctx := context.Background()
	conv, err := st.CreateConversation(ctx, defaultOwner, "t")
	require.NoError(t, err)

	require.NoError(t, st.InsertMessage(ctx, &store.Message{
		ConversationID: conv.ID,
		Role:           agent.RoleUser,
		Status:         store.StatusSent,
		Content:        "draw a map",
	}))
	require.NoError(t, st.InsertMessage(ctx, &store.Message{
		ConversationID: conv.ID,
		Role:           agent.RoleAssistant,
		Status:         store.StatusSent,
		Content:        "here it is",
		GeneratedImages: []agent.ImageRef{
			{ID: "img-1", URL: "/api/v1/artifacts/img-1"},
		},
	}))

	s := newTestServer(t, serverOptions{store: st})
	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/api/v1/conversations/"+conv.ID.String()+"/messages", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Messages []MessageView `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, agent.RoleUser, resp.Messages[0].Role)
	assert.Equal(t, agent.RoleAssistant, resp.Messages[1].Role)
	require.Len(t, resp.Messages[1].GeneratedImages, 1)
	assert.Equal(t, "/api/v1/artifacts/img-1", resp.Messages[1].GeneratedImages[0].URL)
}

func TestConversationMessages_NotFound(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, serverOptions{})
	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/api/v1/conversations/"+uuid.NewString()+"/messages", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConversationMessages_ForeignOwnerHidden(t *testing.T) {
	t.Parallel()

	st := testutil.NewMemStore()
	conv, err := st.CreateConversation(context.Background(), "someone-else", "private")
	require.NoError(t, err)

	s := newTestServer(t, serverOptions{store: st})
	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/api/v1/conversations/"+conv.ID.String()+"/messages", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQueryInt(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/x?limit=25&bad=zz&big=9999", nil)
	assert.Equal(t, int32(25), queryInt(r, "limit", 50, 200))
	assert.Equal(t, int32(50), queryInt(r, "bad", 50, 200))
	assert.Equal(t, int32(50), queryInt(r, "missing", 50, 200))
	assert.Equal(t, int32(200), queryInt(r, "big", 50, 200))
}
