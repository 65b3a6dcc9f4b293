package workflows

import (
	"fmt"

	"identityforge/models"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
)

// Runner starts chat workflows on a DBOS context and waits for their results
type Runner struct {
	dbosCtx   dbos.DBOSContext
	workflows *ChatWorkflows
}

// NewRunner creates a Runner. The workflows must already be registered on dbosCtx.
func NewRunner(dbosCtx dbos.DBOSContext, wf *ChatWorkflows) *Runner {
	return &Runner{dbosCtx: dbosCtx, workflows: wf}
}

// Register registers every chat workflow. It must be called before dbos.Launch.
func (w *ChatWorkflows) Register(dbosCtx dbos.DBOSContext) {
	dbos.RegisterWorkflow(dbosCtx, w.SendMessageWorkflow)
	dbos.RegisterWorkflow(dbosCtx, w.CreateConversationWorkflow)
	dbos.RegisterWorkflow(dbosCtx, w.DeleteConversationWorkflow)
}

// SendMessage runs SendMessageWorkflow
func (r *Runner) SendMessage(input SendMessageInput) (SendMessageOutput, error) {
	handle, err := dbos.RunWorkflow(r.dbosCtx, r.workflows.SendMessageWorkflow, input)
	if err != nil {
		return SendMessageOutput{}, fmt.Errorf("start send message workflow: %w", err)
	}
	return handle.GetResult()
}

// CreateConversation runs CreateConversationWorkflow
func (r *Runner) CreateConversation(input CreateConversationInput) (models.Conversation, error) {
	handle, err := dbos.RunWorkflow(r.dbosCtx, r.workflows.CreateConversationWorkflow, input)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("start create conversation workflow: %w", err)
	}
	return handle.GetResult()
}

// DeleteConversation runs DeleteConversationWorkflow
func (r *Runner) DeleteConversation(input DeleteConversationInput) error {
	handle, err := dbos.RunWorkflow(r.dbosCtx, r.workflows.DeleteConversationWorkflow, input)
	if err != nil {
		return fmt.Errorf("start delete conversation workflow: %w", err)
	}
	_, err = handle.GetResult()
	return err
}
