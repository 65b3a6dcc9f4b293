package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"identityforge/models"
	"identityforge/services"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	contextValueLimit = 5
	contextEntryLimit = 7
)

// ErrCoachFailed marks a workflow that stopped because the coach gave no
// reply. Any other workflow error is a storage failure.
var ErrCoachFailed = errors.New("coach reply failed")

// Store is the persistence the chat workflows depend on
type Store interface {
	CreateConversation(ctx context.Context, userID uuid.UUID, convType models.ConversationType, title, model string) (models.Conversation, error)
	DeleteConversation(ctx context.Context, userID, id uuid.UUID) error
	TouchConversation(ctx context.Context, id uuid.UUID) error
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error)
	SaveMessage(ctx context.Context, conversationID uuid.UUID, role models.Role, content string) (models.Message, error)
	SaveInsights(ctx context.Context, conversationID uuid.UUID, insights []string) error
	ValueNames(ctx context.Context, userID uuid.UUID, limit int) ([]string, error)
	IdentityStatement(ctx context.Context, userID uuid.UUID) (string, error)
	RecentEntries(ctx context.Context, userID uuid.UUID, limit int) ([]models.DailyEntry, error)
	ActiveBeliefs(ctx context.Context, userID uuid.UUID) ([]models.Belief, error)
}

// Coach produces assistant replies
type Coach interface {
	SendMessage(ctx context.Context, cc services.ConversationContext, userMessage string, opts *services.SendOptions) (*services.AIResponse, error)
	Model() string
}

// ChatWorkflows contains DBOS workflows for chat operations
type ChatWorkflows struct {
	store  Store
	coach  Coach
	logger *zap.Logger
	now    func() time.Time
}

// NewChatWorkflows creates a new ChatWorkflows instance
func NewChatWorkflows(store Store, coach Coach, logger *zap.Logger) *ChatWorkflows {
	return &ChatWorkflows{
		store:  store,
		coach:  coach,
		logger: logger,
		now:    time.Now,
	}
}

// SendMessageInput contains the input for the SendMessage workflow
type SendMessageInput struct {
	UserID           uuid.UUID
	ConversationID   uuid.UUID
	ConversationType models.ConversationType
	Content          string
}

// SendMessageOutput contains the output of the SendMessage workflow
type SendMessageOutput struct {
	UserMessage      models.Message
	AssistantMessage models.Message
	Reply            services.AIResponse
}

// CreateConversationInput contains the input for the CreateConversation workflow
type CreateConversationInput struct {
	UserID uuid.UUID
	Type   models.ConversationType
	Title  string
}

// DeleteConversationInput contains the input for the DeleteConversation workflow
type DeleteConversationInput struct {
	UserID         uuid.UUID
	ConversationID uuid.UUID
}

// step runs fn as one unit of work. Workflows get a durable step so a
// recovered run replays recorded results instead of repeating them.
type step[T any] func(fn func(ctx context.Context) (T, error)) (T, error)

func durable[T any](ctx dbos.DBOSContext) step[T] {
	return func(fn func(ctx context.Context) (T, error)) (T, error) {
		return dbos.RunAsStep(ctx, fn)
	}
}

// steps holds one runner per result type used by the chat sequences
type steps struct {
	messages     step[[]models.Message]
	context      step[services.ConversationContext]
	message      step[models.Message]
	reply        step[services.AIResponse]
	conversation step[models.Conversation]
}

func durableSteps(ctx dbos.DBOSContext) steps {
	return steps{
		messages:     durable[[]models.Message](ctx),
		context:      durable[services.ConversationContext](ctx),
		message:      durable[models.Message](ctx),
		reply:        durable[services.AIResponse](ctx),
		conversation: durable[models.Conversation](ctx),
	}
}

// SendMessageWorkflow is a durable workflow that stores the user's message,
// gets the coach reply and stores it. The user message is written before
// the coach is called so it survives an upstream failure.
func (w *ChatWorkflows) SendMessageWorkflow(ctx dbos.DBOSContext, input SendMessageInput) (SendMessageOutput, error) {
	return w.sendMessage(durableSteps(ctx), input)
}

func (w *ChatWorkflows) sendMessage(run steps, input SendMessageInput) (SendMessageOutput, error) {
	var output SendMessageOutput

	// Step 1: Snapshot prior messages before the new one is written
	messages, err := run.messages(func(stepCtx context.Context) ([]models.Message, error) {
		return w.store.ListMessages(stepCtx, input.ConversationID)
	})
	if err != nil {
		return output, err
	}

	// Step 2: Gather user context
	cc, err := run.context(func(stepCtx context.Context) (services.ConversationContext, error) {
		return w.loadContext(stepCtx, input.UserID, input.ConversationID, input.ConversationType), nil
	})
	if err != nil {
		return output, err
	}
	cc.PreviousMessages = messages

	// Step 3: Save user message
	userMsg, err := run.message(func(stepCtx context.Context) (models.Message, error) {
		return w.store.SaveMessage(stepCtx, input.ConversationID, models.RoleUser, input.Content)
	})
	if err != nil {
		return output, err
	}
	output.UserMessage = userMsg

	// Step 4: Get coach reply
	reply, err := run.reply(func(stepCtx context.Context) (services.AIResponse, error) {
		return w.ask(stepCtx, cc, input.Content)
	})
	if err != nil {
		return output, fmt.Errorf("%w: %w", ErrCoachFailed, err)
	}
	output.Reply = reply

	// Step 5: Save assistant message and record activity
	assistantMsg, err := run.message(func(stepCtx context.Context) (models.Message, error) {
		return w.persistReply(stepCtx, input.ConversationID, reply)
	})
	if err != nil {
		return output, err
	}
	output.AssistantMessage = assistantMsg

	return output, nil
}

// CreateConversationWorkflow creates a conversation and has the coach open it
func (w *ChatWorkflows) CreateConversationWorkflow(ctx dbos.DBOSContext, input CreateConversationInput) (models.Conversation, error) {
	return w.createConversation(durableSteps(ctx), input)
}

func (w *ChatWorkflows) createConversation(run steps, input CreateConversationInput) (models.Conversation, error) {
	conv, err := run.conversation(func(stepCtx context.Context) (models.Conversation, error) {
		title := input.Title
		if title == "" {
			title = input.Type.DefaultTitle(w.now())
		}
		return w.store.CreateConversation(stepCtx, input.UserID, input.Type, title, w.coach.Model())
	})
	if err != nil {
		return models.Conversation{}, err
	}

	cc, err := run.context(func(stepCtx context.Context) (services.ConversationContext, error) {
		return w.loadContext(stepCtx, input.UserID, conv.ID, conv.Type), nil
	})
	if err != nil {
		return conv, err
	}

	opening, err := run.reply(func(stepCtx context.Context) (services.AIResponse, error) {
		return w.ask(stepCtx, cc, services.OpeningQuestionRequest)
	})
	if err != nil {
		return conv, fmt.Errorf("%w: %w", ErrCoachFailed, err)
	}

	msg, err := run.message(func(stepCtx context.Context) (models.Message, error) {
		return w.store.SaveMessage(stepCtx, conv.ID, models.RoleAssistant, opening.Message)
	})
	if err != nil {
		return conv, err
	}
	conv.Messages = []models.Message{msg}
	conv.LastMessageAt = msg.CreatedAt
	return conv, nil
}

func (w *ChatWorkflows) ask(ctx context.Context, cc services.ConversationContext, content string) (services.AIResponse, error) {
	resp, err := w.coach.SendMessage(ctx, cc, content, nil)
	if err != nil {
		return services.AIResponse{}, err
	}
	return *resp, nil
}

// DeleteConversationWorkflow deletes a conversation and everything in it
func (w *ChatWorkflows) DeleteConversationWorkflow(ctx dbos.DBOSContext, input DeleteConversationInput) (bool, error) {
	return dbos.RunAsStep(ctx, func(stepCtx context.Context) (bool, error) {
		err := w.store.DeleteConversation(stepCtx, input.UserID, input.ConversationID)
		return err == nil, err
	})
}

// loadContext gathers what the coach should know about the user. Each
// source is optional: a failed read is logged and the call goes ahead
// without it.
func (w *ChatWorkflows) loadContext(ctx context.Context, userID, conversationID uuid.UUID, convType models.ConversationType) services.ConversationContext {
	cc := services.ConversationContext{
		UserID:           userID,
		ConversationID:   conversationID,
		ConversationType: convType,
	}
	log := w.logger.With(zap.String("userID", userID.String()))

	beliefs, err := w.store.ActiveBeliefs(ctx, userID)
	if err != nil {
		log.Warn("belief context unavailable, continuing without beliefs", zap.Error(err))
	} else {
		cc.Beliefs = beliefs
	}

	values, err := w.store.ValueNames(ctx, userID, contextValueLimit)
	if err != nil {
		log.Warn("value context unavailable, continuing without values", zap.Error(err))
	} else {
		cc.UserValues = values
	}

	identity, err := w.store.IdentityStatement(ctx, userID)
	if err != nil {
		log.Warn("identity context unavailable, continuing without identity", zap.Error(err))
	} else {
		cc.UserIdentity = identity
	}

	entries, err := w.store.RecentEntries(ctx, userID, contextEntryLimit)
	if err != nil {
		log.Warn("daily entries context unavailable, continuing without entries", zap.Error(err))
	} else {
		cc.RecentEntries = entries
	}

	return cc
}

// persistReply writes the assistant message, bumps the conversation's
// activity time and keeps any insights from the reply. Only the message
// write is fatal.
func (w *ChatWorkflows) persistReply(ctx context.Context, conversationID uuid.UUID, reply services.AIResponse) (models.Message, error) {
	msg, err := w.store.SaveMessage(ctx, conversationID, models.RoleAssistant, reply.Message)
	if err != nil {
		return models.Message{}, err
	}

	if err := w.store.TouchConversation(ctx, conversationID); err != nil {
		w.logger.Warn("conversation activity update failed, continuing",
			zap.String("conversationID", conversationID.String()),
			zap.Error(err),
		)
	}

	if len(reply.Insights) > 0 {
		if err := w.store.SaveInsights(ctx, conversationID, reply.Insights); err != nil {
			w.logger.Warn("conversation insight persistence failed, continuing",
				zap.String("conversationID", conversationID.String()),
				zap.Error(err),
			)
		}
	}
	return msg, nil
}
