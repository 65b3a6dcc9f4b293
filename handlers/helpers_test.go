package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"identityforge/models"
	"identityforge/services"
	"identityforge/store"
	"identityforge/workflows"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeStore struct {
	users         map[uuid.UUID]bool
	conversations map[uuid.UUID]models.Conversation
	messages      map[uuid.UUID][]models.Message
	values        []string
	identity      string
	entries       []models.DailyEntry
	completed     map[uuid.UUID]bool
	pingErr       error
	valueLimits   []int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:         map[uuid.UUID]bool{},
		conversations: map[uuid.UUID]models.Conversation{},
		messages:      map[uuid.UUID][]models.Message{},
		completed:     map[uuid.UUID]bool{},
	}
}

func (f *fakeStore) addUser() uuid.UUID {
	id := uuid.New()
	f.users[id] = true
	return id
}

func (f *fakeStore) addConversation(userID uuid.UUID, convType models.ConversationType) models.Conversation {
	conv := models.Conversation{ID: uuid.New(), UserID: userID, Type: convType, Title: "t", IsActive: true}
	f.conversations[conv.ID] = conv
	return conv
}

func (f *fakeStore) UserExists(_ context.Context, userID uuid.UUID) (bool, error) {
	return f.users[userID], nil
}

func (f *fakeStore) GetConversation(_ context.Context, userID, id uuid.UUID) (models.Conversation, error) {
	conv, ok := f.conversations[id]
	if !ok || conv.UserID != userID {
		return models.Conversation{}, store.ErrNotFound
	}
	return conv, nil
}

func (f *fakeStore) ListConversations(_ context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	var out []models.Conversation
	for _, conv := range f.conversations {
		if conv.UserID == userID {
			out = append(out, conv)
		}
	}
	return out, nil
}

func (f *fakeStore) ListMessages(_ context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	return f.messages[conversationID], nil
}

func (f *fakeStore) SetConversationComplete(_ context.Context, userID, id uuid.UUID, complete bool) error {
	if _, err := f.GetConversation(context.Background(), userID, id); err != nil {
		return err
	}
	f.completed[id] = complete
	return nil
}

func (f *fakeStore) ValueNames(_ context.Context, _ uuid.UUID, limit int) ([]string, error) {
	f.valueLimits = append(f.valueLimits, limit)
	return f.values, nil
}

func (f *fakeStore) IdentityStatement(context.Context, uuid.UUID) (string, error) {
	return f.identity, nil
}

func (f *fakeStore) RecentEntries(_ context.Context, _ uuid.UUID, limit int) ([]models.DailyEntry, error) {
	if limit < len(f.entries) {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

type fakeRunner struct {
	store   *fakeStore
	err     error
	sent    []workflows.SendMessageInput
	created []workflows.CreateConversationInput
	deleted []workflows.DeleteConversationInput
}

func (r *fakeRunner) SendMessage(in workflows.SendMessageInput) (workflows.SendMessageOutput, error) {
	r.sent = append(r.sent, in)
	if r.err != nil {
		return workflows.SendMessageOutput{}, r.err
	}
	user := models.Message{ID: uuid.New(), ConversationID: in.ConversationID, Role: models.RoleUser, Content: in.Content}
	reply := models.Message{ID: uuid.New(), ConversationID: in.ConversationID, Role: models.RoleAssistant, Content: "Tell me more."}
	r.store.messages[in.ConversationID] = append(r.store.messages[in.ConversationID], user, reply)
	return workflows.SendMessageOutput{UserMessage: user, AssistantMessage: reply}, nil
}

func (r *fakeRunner) CreateConversation(in workflows.CreateConversationInput) (models.Conversation, error) {
	r.created = append(r.created, in)
	if r.err != nil {
		return models.Conversation{}, r.err
	}
	conv := r.store.addConversation(in.UserID, in.Type)
	conv.Messages = []models.Message{{ID: uuid.New(), ConversationID: conv.ID, Role: models.RoleAssistant, Content: "What brings you here?"}}
	return conv, nil
}

func (r *fakeRunner) DeleteConversation(in workflows.DeleteConversationInput) error {
	r.deleted = append(r.deleted, in)
	if r.err != nil {
		return r.err
	}
	delete(r.store.conversations, in.ConversationID)
	return nil
}

type fakeCoach struct {
	err      error
	prompts  []services.DailyPromptOptions
	reflects []services.DailyReflectionInput
	analyzed [][]models.DailyEntry
}

func (f *fakeCoach) GenerateDailyPrompt(_ context.Context, opts services.DailyPromptOptions) (string, error) {
	f.prompts = append(f.prompts, opts)
	return "What will make today count?", f.err
}

func (f *fakeCoach) GenerateDailyReflection(_ context.Context, in services.DailyReflectionInput) (string, error) {
	f.reflects = append(f.reflects, in)
	return "You kept your promise to rest.", f.err
}

func (f *fakeCoach) AnalyzePatterns(_ context.Context, entries []models.DailyEntry, _ []string) (*services.PatternAnalysis, error) {
	f.analyzed = append(f.analyzed, entries)
	if f.err != nil {
		return nil, f.err
	}
	return &services.PatternAnalysis{Summary: "Steady", Patterns: []services.Pattern{}, Recommendations: []string{}}, nil
}

type testServer struct {
	engine *gin.Engine
	store  *fakeStore
	runner *fakeRunner
	coach  *fakeCoach
}

func newTestServer(t *testing.T, burst int) *testServer {
	t.Helper()

	st := newFakeStore()
	runner := &fakeRunner{store: st}
	coach := &fakeCoach{}
	logger := zap.NewNop()

	engine := Router{
		Chat:     NewChatHandler(st, runner, logger),
		Daily:    NewDailyHandler(st, coach, logger),
		Users:    st,
		Limiter:  NewUserRateLimiter(0.001, burst),
		Health:   st,
		Gatherer: prometheus.NewRegistry(),
		Logger:   logger,
	}.Engine()

	return &testServer{engine: engine, store: st, runner: runner, coach: coach}
}

func (s *testServer) do(method, path string, userID uuid.UUID, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != uuid.Nil {
		req.Header.Set("Authorization", "Bearer "+userID.String())
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

var errUpstream = &services.UpstreamError{StatusCode: http.StatusServiceUnavailable, Body: `{"error":"provider secret detail"}`}

var errCoach = fmt.Errorf("%w: %w", workflows.ErrCoachFailed, errUpstream)
