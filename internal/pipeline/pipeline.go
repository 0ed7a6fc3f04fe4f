package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/mixelka/autoreply/internal/database"
	"github.com/mixelka/autoreply/internal/retry"
	"github.com/mixelka/autoreply/pkg/models"
)

const resumePageSize = 500

// Store is the persistence the pipeline works against
type Store interface {
	GetMessageByID(ctx context.Context, id int64) (*models.Message, error)
	ListMessages(ctx context.Context, f database.MessageFilter) ([]*models.Message, error)
	SaveMessage(ctx context.Context, msg *models.Message, expect models.Status) error
	CreateManualMessage(ctx context.Context, msg *models.Message) error
	GetAccountByID(ctx context.Context, id int64) (*models.Account, error)
	ListIntents(ctx context.Context) ([]*models.Intent, error)
	ListKnowledgeEntries(ctx context.Context) ([]*models.KnowledgeEntry, error)
}

// Notifier tells an operator a message needs attention
type Notifier interface {
	Notify(ctx context.Context, account *models.Account, msg *models.Message)
}

// Enqueuer schedules a message for processing
type Enqueuer interface {
	Enqueue(ctx context.Context, accountID, messageID int64) error
}

// Stages are the steps a message passes through
type Stages struct {
	Classifier *Classifier
	Retriever  *Retriever
	Drafter    *Drafter
	Validator  *Validator
	Dispatcher *Dispatcher
}

// Config controls retries and the redraft bound
type Config struct {
	MaxRedrafts    int
	ServiceRetries int
	Backoff        retry.Backoff
}

// Pipeline drives messages through the reply state machine
type Pipeline struct {
	store  Store
	stages Stages
	cfg    Config
	notify Notifier
	queue  Enqueuer
	logger *slog.Logger
}

// New creates a new pipeline
func New(store Store, stages Stages, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.MaxRedrafts < 1 {
		cfg.MaxRedrafts = 3
	}
	if cfg.ServiceRetries < 1 {
		cfg.ServiceRetries = 3
	}
	return &Pipeline{
		store:  store,
		stages: stages,
		cfg:    cfg,
		logger: logger.With("component", "pipeline"),
	}
}

// SetNotifier sets the operator notifier. Must be called before processing starts.
func (p *Pipeline) SetNotifier(n Notifier) { p.notify = n }

// SetQueue sets the queue used by Retry and Resume. Must be called before processing starts.
func (p *Pipeline) SetQueue(q Enqueuer) { p.queue = q }

// run is the state of one message pass. Intents and knowledge are a
// snapshot taken when the pass starts.
type run struct {
	account   *models.Account
	msg       *models.Message
	intents   []*models.Intent
	knowledge []*models.KnowledgeEntry
	vec       []float32
}

// Process runs a newly discovered message through classification,
// drafting, validation and dispatch. Messages not in new are left alone.
func (p *Pipeline) Process(ctx context.Context, id int64) error {
	msg, err := p.store.GetMessageByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load message %d: %w", id, err)
	}
	if msg.Status != models.StatusNew {
		p.logger.Debug("message already processed", "message_id", id, "status", msg.Status)
		return nil
	}

	r, err := p.load(ctx, msg)
	if err != nil {
		return p.fail(ctx, &run{msg: msg}, StageLoad, err)
	}

	if err := p.transition(ctx, msg, models.StatusClassifying); err != nil {
		if errors.Is(err, database.ErrStaleStatus) {
			return nil
		}
		return err
	}

	err = p.call(ctx, StageClassify, func(ctx context.Context) error {
		matches, vec, err := p.stages.Classifier.Classify(ctx, msg, r.intents)
		if err != nil {
			return err
		}
		msg.Intents, r.vec = matches, vec
		return nil
	})
	if err != nil {
		return p.fail(ctx, r, StageClassify, err)
	}
	p.logger.Info("message classified", "message_id", id, "intents", msg.Intents.Names())

	if err := p.transition(ctx, msg, models.StatusDrafting); err != nil {
		return err
	}
	return p.draftLoop(ctx, r, "")
}

// Redraft restarts drafting for a message an operator is not happy with.
// The redraft counter is reset and the last validator feedback is used.
func (p *Pipeline) Redraft(ctx context.Context, id int64) error {
	msg, err := p.store.GetMessageByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load message %d: %w", id, err)
	}

	switch msg.Status {
	case models.StatusReadyToSend, models.StatusNeedsRedraft, models.StatusEscalate:
	case models.StatusError:
		if s := failedStage(msg.ErrorDetail); s == StageLoad || s == StageClassify {
			return fmt.Errorf("%w: message %d was never classified, retry it instead", ErrInvalidTransition, id)
		}
	default:
		return fmt.Errorf("%w: cannot redraft message in %s", ErrInvalidTransition, msg.Status)
	}

	r, err := p.load(ctx, msg)
	if err != nil {
		return err
	}

	var feedback string
	if msg.ValidationStatus == models.ValidationFail {
		feedback = msg.ValidationFeedback
	}
	msg.RedraftCount = 0
	msg.ErrorDetail = ""
	if err := p.transition(ctx, msg, models.StatusDrafting); err != nil {
		return err
	}
	p.logger.Info("redraft requested", "message_id", id)
	return p.draftLoop(ctx, r, feedback)
}

// Send dispatches a drafted reply. Messages that failed validation or were
// escalated are only sent with manualOverride.
func (p *Pipeline) Send(ctx context.Context, id int64, manualOverride bool) error {
	msg, err := p.store.GetMessageByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load message %d: %w", id, err)
	}

	switch msg.Status {
	case models.StatusReadyToSend:
	case models.StatusNeedsRedraft, models.StatusEscalate:
		if !manualOverride {
			return ErrOverrideRequired
		}
		p.logger.Warn("sending with manual override", "message_id", id, "status", msg.Status)
	case models.StatusSending:
		return ErrSendInProgress
	default:
		return fmt.Errorf("%w: cannot send message in %s", ErrInvalidTransition, msg.Status)
	}
	if strings.TrimSpace(msg.Draft) == "" {
		return ErrNoDraft
	}

	account, err := p.store.GetAccountByID(ctx, msg.AccountID)
	if err != nil {
		return fmt.Errorf("failed to load account %d: %w", msg.AccountID, err)
	}
	return p.dispatch(ctx, &run{account: account, msg: msg})
}

// Retry resets a failed message to new and queues it again
func (p *Pipeline) Retry(ctx context.Context, id int64) error {
	msg, err := p.store.GetMessageByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load message %d: %w", id, err)
	}
	if msg.Status != models.StatusError {
		return fmt.Errorf("%w: only failed messages can be retried, message is %s", ErrInvalidTransition, msg.Status)
	}
	return p.requeue(ctx, msg)
}

// Submit stores a hand-written message as if it had arrived in the
// account's inbox and queues it. The sender is the account itself, so a
// reply never leaves the operator's own mailbox.
func (p *Pipeline) Submit(ctx context.Context, accountID int64, subject, body string) (*models.Message, error) {
	if strings.TrimSpace(body) == "" {
		return nil, errors.New("message body is empty")
	}
	account, err := p.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account %d: %w", accountID, err)
	}

	messageID := newMessageID(account.Email)
	msg := &models.Message{
		AccountID:  account.ID,
		MessageID:  messageID,
		ThreadID:   messageID,
		FromAddr:   account.Email,
		FromName:   account.Name,
		Recipient:  account.Email,
		Subject:    subject,
		BodyText:   body,
		ReceivedAt: time.Now(),
	}
	if err := p.store.CreateManualMessage(ctx, msg); err != nil {
		return nil, err
	}
	p.logger.Info("manual message submitted", "message_id", msg.ID, "account_id", account.ID)

	if p.queue != nil {
		if err := p.queue.Enqueue(ctx, msg.AccountID, msg.ID); err != nil {
			return msg, err
		}
	}
	return msg, nil
}

// Resume recovers work interrupted by a shutdown: messages left mid-pipeline
// are reset to new and every new message is queued again, oldest first.
// A message caught in sending may already have been delivered, so it is
// parked in error for an operator instead of being requeued.
func (p *Pipeline) Resume(ctx context.Context) (int, error) {
	sending, err := p.listAll(ctx, models.StatusSending)
	if err != nil {
		return 0, err
	}
	for _, msg := range sending {
		msg.ErrorDetail = "interrupted while sending, delivery unknown"
		if err := p.transition(ctx, msg, models.StatusError); err != nil {
			return 0, err
		}
		p.logger.Warn("send interrupted, check before retrying", "message_id", msg.ID)
	}

	for _, status := range []models.Status{
		models.StatusClassifying, models.StatusDrafting, models.StatusValidating, models.StatusNeedsRedraft,
	} {
		stuck, err := p.listAll(ctx, status)
		if err != nil {
			return 0, err
		}
		for _, msg := range stuck {
			msg.ErrorDetail = "interrupted while " + string(status)
			if err := p.transition(ctx, msg, models.StatusError); err != nil {
				return 0, err
			}
			reset(msg)
			if err := p.transition(ctx, msg, models.StatusNew); err != nil {
				return 0, err
			}
		}
	}

	pending, err := p.listAll(ctx, models.StatusNew)
	if err != nil {
		return 0, err
	}
	slices.Reverse(pending)
	if p.queue == nil {
		return 0, nil
	}
	for _, msg := range pending {
		if err := p.queue.Enqueue(ctx, msg.AccountID, msg.ID); err != nil {
			return 0, err
		}
	}
	return len(pending), nil
}

// listAll pages through every message in status, newest first
func (p *Pipeline) listAll(ctx context.Context, status models.Status) ([]*models.Message, error) {
	var all []*models.Message
	filter := database.MessageFilter{Status: status, Limit: resumePageSize}
	for {
		page, err := p.store.ListMessages(ctx, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < resumePageSize {
			return all, nil
		}
		filter.BeforeID = page[len(page)-1].ID
	}
}

func (p *Pipeline) requeue(ctx context.Context, msg *models.Message) error {
	reset(msg)
	if err := p.transition(ctx, msg, models.StatusNew); err != nil {
		return err
	}
	p.logger.Info("message reset for retry", "message_id", msg.ID)
	if p.queue == nil {
		return nil
	}
	return p.queue.Enqueue(ctx, msg.AccountID, msg.ID)
}

func reset(msg *models.Message) {
	msg.Intents = nil
	msg.Draft = ""
	msg.DraftHTML = ""
	msg.ValidationStatus = ""
	msg.ValidationFeedback = ""
	msg.RedraftCount = 0
	msg.ErrorDetail = ""
	msg.ProcessedAt = nil
}

// draftLoop drafts and validates until PASS or the redraft bound is hit.
// The message must be in drafting.
func (p *Pipeline) draftLoop(ctx context.Context, r *run, feedback string) error {
	msg := r.msg
	for {
		req, err := p.request(ctx, r, feedback)
		if err != nil {
			return p.fail(ctx, r, StageDraft, err)
		}

		var draft Draft
		err = p.call(ctx, StageDraft, func(ctx context.Context) (err error) {
			draft, err = p.stages.Drafter.Draft(ctx, req)
			return err
		})
		if err != nil {
			return p.fail(ctx, r, StageDraft, err)
		}
		msg.Draft, msg.DraftHTML = draft.Text, draft.HTML
		if err := p.transition(ctx, msg, models.StatusValidating); err != nil {
			return err
		}

		var verdict Verdict
		err = p.call(ctx, StageValidate, func(ctx context.Context) (err error) {
			verdict, err = p.stages.Validator.Validate(ctx, req, draft.Text)
			return err
		})
		if err != nil {
			return p.fail(ctx, r, StageValidate, err)
		}
		now := time.Now()
		msg.ValidationStatus, msg.ValidationFeedback, msg.ProcessedAt = verdict.Status(), verdict.Feedback, &now

		if verdict.Pass {
			if err := p.transition(ctx, msg, models.StatusReadyToSend); err != nil {
				return err
			}
			return p.deliver(ctx, r)
		}

		msg.RedraftCount++
		if err := p.transition(ctx, msg, models.StatusNeedsRedraft); err != nil {
			return err
		}
		if msg.RedraftCount >= p.cfg.MaxRedrafts {
			if err := p.transition(ctx, msg, models.StatusEscalate); err != nil {
				return err
			}
			p.logger.Warn("message escalated", "message_id", msg.ID, "redrafts", msg.RedraftCount)
			p.notifyOperator(ctx, r)
			return nil
		}

		p.logger.Info("draft rejected, redrafting", "message_id", msg.ID, "attempt", msg.RedraftCount)
		feedback = verdict.Feedback
		if err := p.transition(ctx, msg, models.StatusDrafting); err != nil {
			return err
		}
	}
}

func (p *Pipeline) deliver(ctx context.Context, r *run) error {
	if !r.account.AutoSend {
		p.logger.Info("draft ready for review", "message_id", r.msg.ID)
		p.notifyOperator(ctx, r)
		return nil
	}
	return p.dispatch(ctx, r)
}

// dispatch claims the message in sending before handing it to the sender,
// so concurrent callers holding the same stale read cannot both deliver.
func (p *Pipeline) dispatch(ctx context.Context, r *run) error {
	if err := p.transition(ctx, r.msg, models.StatusSending); err != nil {
		if errors.Is(err, database.ErrStaleStatus) {
			return ErrSendInProgress
		}
		return err
	}
	if err := p.stages.Dispatcher.Dispatch(ctx, r.account, r.msg); err != nil {
		return p.fail(ctx, r, StageDispatch, err)
	}
	now := time.Now()
	r.msg.SentAt = &now
	if err := p.transition(ctx, r.msg, models.StatusSent); err != nil {
		return fmt.Errorf("reply sent but status not saved: %w", err)
	}
	p.logger.Info("reply sent", "message_id", r.msg.ID, "to", r.msg.FromAddr)
	return nil
}

// request builds the drafting input, embedding the message when the
// classification vector is not at hand.
func (p *Pipeline) request(ctx context.Context, r *run, feedback string) (DraftRequest, error) {
	if r.vec == nil {
		err := p.call(ctx, StageDraft, func(ctx context.Context) (err error) {
			r.vec, err = p.stages.Classifier.Embed(ctx, r.msg)
			return err
		})
		if err != nil {
			return DraftRequest{}, err
		}
	}

	req := DraftRequest{
		Account:   r.account,
		Message:   r.msg,
		Knowledge: p.stages.Retriever.Select(r.vec, r.knowledge),
		Feedback:  feedback,
	}
	for _, m := range r.msg.Intents {
		for _, in := range r.intents {
			if in.ID == m.IntentID {
				req.Matches = append(req.Matches, m)
				req.Intents = append(req.Intents, in)
				break
			}
		}
	}
	return req, nil
}

func (p *Pipeline) load(ctx context.Context, msg *models.Message) (*run, error) {
	account, err := p.store.GetAccountByID(ctx, msg.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account %d: %w", msg.AccountID, err)
	}
	intents, err := p.store.ListIntents(ctx)
	if err != nil {
		return nil, err
	}
	knowledge, err := p.store.ListKnowledgeEntries(ctx)
	if err != nil {
		return nil, err
	}
	return &run{account: account, msg: msg, intents: intents, knowledge: knowledge}, nil
}

// call runs one stage call with bounded retries
func (p *Pipeline) call(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	return retry.Do(ctx, p.cfg.ServiceRetries, p.cfg.Backoff, IsRetryable, func(ctx context.Context) error {
		return wrap(stage, fn(ctx))
	})
}

// transition persists msg in status to, provided its stored status is still
// the one it was loaded with.
func (p *Pipeline) transition(ctx context.Context, msg *models.Message, to models.Status) error {
	from := msg.Status
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	msg.Status = to
	if err := p.store.SaveMessage(ctx, msg, from); err != nil {
		msg.Status = from
		return err
	}
	p.logger.Debug("status changed", "message_id", msg.ID, "from", from, "to", to)
	return nil
}

// fail moves the message to error. A cancelled context leaves the status
// as is so Resume can pick the message up after restart.
func (p *Pipeline) fail(ctx context.Context, r *run, stage Stage, err error) error {
	err = wrap(stage, err)
	if ctx.Err() != nil {
		return err
	}

	r.msg.ErrorDetail = err.Error()
	if terr := p.transition(ctx, r.msg, models.StatusError); terr != nil {
		return errors.Join(err, terr)
	}
	p.notifyOperator(ctx, r)
	return err
}

func (p *Pipeline) notifyOperator(ctx context.Context, r *run) {
	if p.notify == nil || r.account == nil {
		return
	}
	p.notify.Notify(ctx, r.account, r.msg)
}

func failedStage(detail string) Stage {
	stage, _, ok := strings.Cut(detail, " failed")
	if !ok {
		return ""
	}
	return Stage(stage)
}
