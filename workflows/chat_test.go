package workflows

import (
	"context"
	"errors"
	"testing"
	"time"

	"identityforge/models"
	"identityforge/services"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	values     []string
	valueLimit int
	identity   string
	entries    []models.DailyEntry
	entryLimit int
	beliefs    []models.Belief

	valuesErr   error
	beliefsErr  error
	saveErr     error
	touchErr    error
	insightsErr error

	saved    []models.Message
	touched  []uuid.UUID
	insights []string
}

func (f *fakeStore) CreateConversation(_ context.Context, userID uuid.UUID, convType models.ConversationType, title, model string) (models.Conversation, error) {
	return models.Conversation{ID: uuid.New(), UserID: userID, Type: convType, Title: title, Model: model}, nil
}

func (f *fakeStore) DeleteConversation(context.Context, uuid.UUID, uuid.UUID) error { return nil }

func (f *fakeStore) TouchConversation(_ context.Context, id uuid.UUID) error {
	f.touched = append(f.touched, id)
	return f.touchErr
}

func (f *fakeStore) ListMessages(context.Context, uuid.UUID) ([]models.Message, error) {
	return f.saved, nil
}

func (f *fakeStore) SaveMessage(_ context.Context, conversationID uuid.UUID, role models.Role, content string) (models.Message, error) {
	if f.saveErr != nil {
		return models.Message{}, f.saveErr
	}
	msg := models.Message{ID: uuid.New(), ConversationID: conversationID, Role: role, Content: content}
	f.saved = append(f.saved, msg)
	return msg, nil
}

func (f *fakeStore) SaveInsights(_ context.Context, _ uuid.UUID, insights []string) error {
	if f.insightsErr != nil {
		return f.insightsErr
	}
	f.insights = append(f.insights, insights...)
	return nil
}

func (f *fakeStore) ValueNames(_ context.Context, _ uuid.UUID, limit int) ([]string, error) {
	f.valueLimit = limit
	return f.values, f.valuesErr
}

func (f *fakeStore) IdentityStatement(context.Context, uuid.UUID) (string, error) {
	return f.identity, nil
}

func (f *fakeStore) RecentEntries(_ context.Context, _ uuid.UUID, limit int) ([]models.DailyEntry, error) {
	f.entryLimit = limit
	return f.entries, nil
}

func (f *fakeStore) ActiveBeliefs(context.Context, uuid.UUID) ([]models.Belief, error) {
	return f.beliefs, f.beliefsErr
}

type fakeCoach struct {
	err      error
	contexts []services.ConversationContext
	asked    []string
}

func (f *fakeCoach) SendMessage(_ context.Context, cc services.ConversationContext, content string, _ *services.SendOptions) (*services.AIResponse, error) {
	f.contexts = append(f.contexts, cc)
	f.asked = append(f.asked, content)
	if f.err != nil {
		return nil, f.err
	}
	return &services.AIResponse{Message: "ok", Insights: []string{"Values honesty"}}, nil
}

func (f *fakeCoach) Model() string { return "test-model" }

// direct runs each step inline, without a DBOS context
func direct[T any](ctx context.Context) step[T] {
	return func(fn func(ctx context.Context) (T, error)) (T, error) {
		return fn(ctx)
	}
}

func directSteps() steps {
	ctx := context.Background()
	return steps{
		messages:     direct[[]models.Message](ctx),
		context:      direct[services.ConversationContext](ctx),
		message:      direct[models.Message](ctx),
		reply:        direct[services.AIResponse](ctx),
		conversation: direct[models.Conversation](ctx),
	}
}

func TestLoadContext(t *testing.T) {
	energy := 7
	store := &fakeStore{
		values:   []string{"Family", "Craft"},
		identity: "I finish what I start",
		entries:  []models.DailyEntry{{EnergyLevel: &energy}},
		beliefs:  []models.Belief{{Type: "EMPOWERING", Statement: "I learn fast"}},
	}
	wf := NewChatWorkflows(store, &fakeCoach{}, zap.NewNop())
	userID, convID := uuid.New(), uuid.New()

	cc := wf.loadContext(context.Background(), userID, convID, models.IdentityCraft)

	assert.Equal(t, userID, cc.UserID)
	assert.Equal(t, convID, cc.ConversationID)
	assert.Equal(t, models.IdentityCraft, cc.ConversationType)
	assert.Equal(t, []string{"Family", "Craft"}, cc.UserValues)
	assert.Equal(t, "I finish what I start", cc.UserIdentity)
	assert.Len(t, cc.RecentEntries, 1)
	assert.Len(t, cc.Beliefs, 1)
	assert.Equal(t, 5, store.valueLimit)
	assert.Equal(t, 7, store.entryLimit)
}

func TestLoadContext_FailedReadsAreSkipped(t *testing.T) {
	store := &fakeStore{
		values:     []string{"ignored"},
		valuesErr:  errors.New("connection reset"),
		beliefsErr: errors.New("connection reset"),
		identity:   "I show up",
	}
	wf := NewChatWorkflows(store, &fakeCoach{}, zap.NewNop())

	cc := wf.loadContext(context.Background(), uuid.New(), uuid.New(), models.BeliefWork)

	assert.Equal(t, "I show up", cc.UserIdentity)
	assert.Nil(t, cc.UserValues)
	assert.Nil(t, cc.Beliefs)

	// the prompt still builds without the failed sections
	prompt := services.BuildSystemPrompt(models.BeliefWork, &cc)
	assert.Contains(t, prompt, "## User's Identity Statement\nI show up")
	assert.NotContains(t, prompt, "User's Values")
}

func TestPersistReply(t *testing.T) {
	store := &fakeStore{}
	wf := NewChatWorkflows(store, &fakeCoach{}, zap.NewNop())
	convID := uuid.New()

	msg, err := wf.persistReply(context.Background(), convID, services.AIResponse{
		Message:  "What would that look like tomorrow?",
		Insights: []string{"Values rest"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.RoleAssistant, msg.Role)
	assert.Equal(t, "What would that look like tomorrow?", msg.Content)
	assert.Equal(t, []uuid.UUID{convID}, store.touched)
	assert.Equal(t, []string{"Values rest"}, store.insights)
}

func TestPersistReply_InsightFailureIsNotFatal(t *testing.T) {
	store := &fakeStore{insightsErr: errors.New("disk full")}
	wf := NewChatWorkflows(store, &fakeCoach{}, zap.NewNop())

	msg, err := wf.persistReply(context.Background(), uuid.New(), services.AIResponse{
		Message:  "ok",
		Insights: []string{"x"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", msg.Content)
}

func TestPersistReply_SaveFailure(t *testing.T) {
	store := &fakeStore{saveErr: errors.New("connection refused")}
	wf := NewChatWorkflows(store, &fakeCoach{}, zap.NewNop())

	_, err := wf.persistReply(context.Background(), uuid.New(), services.AIResponse{Message: "ok"})
	assert.Error(t, err)
	assert.Empty(t, store.touched)
}

func TestPersistReply_NoInsights(t *testing.T) {
	store := &fakeStore{insightsErr: errors.New("should not be called")}
	wf := NewChatWorkflows(store, &fakeCoach{}, zap.NewNop())

	_, err := wf.persistReply(context.Background(), uuid.New(), services.AIResponse{Message: "ok"})
	require.NoError(t, err)
	assert.Empty(t, store.insights)
}

func TestSendMessage(t *testing.T) {
	earlier := models.Message{ID: uuid.New(), Role: models.RoleAssistant, Content: "What matters most to you?"}
	store := &fakeStore{saved: []models.Message{earlier}, values: []string{"Honesty"}}
	coach := &fakeCoach{}
	wf := NewChatWorkflows(store, coach, zap.NewNop())
	convID := uuid.New()

	out, err := wf.sendMessage(directSteps(), SendMessageInput{
		UserID:           uuid.New(),
		ConversationID:   convID,
		ConversationType: models.ValuesDiscovery,
		Content:          "Telling the truth",
	})
	require.NoError(t, err)

	assert.Equal(t, "Telling the truth", out.UserMessage.Content)
	assert.Equal(t, models.RoleAssistant, out.AssistantMessage.Role)
	assert.Equal(t, "ok", out.AssistantMessage.Content)
	require.Len(t, store.saved, 3)
	assert.Equal(t, models.RoleUser, store.saved[1].Role)
	assert.Equal(t, []uuid.UUID{convID}, store.touched)
	assert.Equal(t, []string{"Values honesty"}, store.insights)

	require.Len(t, coach.contexts, 1)
	assert.Equal(t, []models.Message{earlier}, coach.contexts[0].PreviousMessages)
	assert.Equal(t, []string{"Honesty"}, coach.contexts[0].UserValues)
	assert.Equal(t, []string{"Telling the truth"}, coach.asked)
}

func TestSendMessage_CoachFailureKeepsUserMessage(t *testing.T) {
	store := &fakeStore{}
	coach := &fakeCoach{err: errors.New("upstream returned 503")}
	wf := NewChatWorkflows(store, coach, zap.NewNop())

	out, err := wf.sendMessage(directSteps(), SendMessageInput{
		UserID:           uuid.New(),
		ConversationID:   uuid.New(),
		ConversationType: models.General,
		Content:          "Are you there?",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCoachFailed)

	require.Len(t, store.saved, 1)
	assert.Equal(t, models.RoleUser, store.saved[0].Role)
	assert.Equal(t, "Are you there?", out.UserMessage.Content)
	assert.Empty(t, store.touched)

	// the new message is sent once, as the prompt, not again in the transcript
	require.Len(t, coach.contexts, 1)
	assert.Empty(t, coach.contexts[0].PreviousMessages)
}

func TestSendMessage_StorageFailureIsNotCoachFailure(t *testing.T) {
	store := &fakeStore{saveErr: errors.New("connection refused")}
	coach := &fakeCoach{}
	wf := NewChatWorkflows(store, coach, zap.NewNop())

	_, err := wf.sendMessage(directSteps(), SendMessageInput{UserID: uuid.New(), ConversationID: uuid.New(), Content: "hi"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCoachFailed)
	assert.Empty(t, coach.contexts)
}

func TestCreateConversation(t *testing.T) {
	store := &fakeStore{}
	coach := &fakeCoach{}
	wf := NewChatWorkflows(store, coach, zap.NewNop())
	wf.now = func() time.Time { return time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC) }

	conv, err := wf.createConversation(directSteps(), CreateConversationInput{UserID: uuid.New(), Type: models.ValuesDiscovery})
	require.NoError(t, err)

	assert.Equal(t, "Values Discovery - Mar 4", conv.Title)
	assert.Equal(t, "test-model", conv.Model)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, models.RoleAssistant, conv.Messages[0].Role)
	assert.Equal(t, []string{services.OpeningQuestionRequest}, coach.asked)
}

func TestCreateConversation_CoachFailure(t *testing.T) {
	store := &fakeStore{}
	wf := NewChatWorkflows(store, &fakeCoach{err: errors.New("timeout")}, zap.NewNop())

	_, err := wf.createConversation(directSteps(), CreateConversationInput{UserID: uuid.New(), Type: models.General, Title: "Mine"})
	assert.ErrorIs(t, err, ErrCoachFailed)
	assert.Empty(t, store.saved)
}

func TestPersistReply_TouchFailureIsNotFatal(t *testing.T) {
	store := &fakeStore{touchErr: errors.New("lock timeout")}
	wf := NewChatWorkflows(store, &fakeCoach{}, zap.NewNop())
	convID := uuid.New()

	msg, err := wf.persistReply(context.Background(), convID, services.AIResponse{
		Message:  "Noted.",
		Insights: []string{"Values rest"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Noted.", msg.Content)
	assert.Equal(t, []uuid.UUID{convID}, store.touched)
	assert.Equal(t, []string{"Values rest"}, store.insights)
}
