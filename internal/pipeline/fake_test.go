package pipeline

import (
	"context"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mixelka/autoreply/internal/database"
	"github.com/mixelka/autoreply/internal/database/dbtest"
	"github.com/mixelka/autoreply/internal/retry"
	"github.com/mixelka/autoreply/pkg/models"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// pricingVec scores 0.82 against the sales intent
var pricingVec = []float32{0.82, float32(math.Sqrt(1 - 0.82*0.82))}

// fakeEmbedder maps pricing questions onto the sales axis and everything
// else away from both intents
type fakeEmbedder struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if len(e.errs) > 0 {
		err := e.errs[0]
		e.errs = e.errs[1:]
		return nil, err
	}
	if strings.Contains(strings.ToLower(text), "pricing") {
		return pricingVec, nil
	}
	return []float32{-1, 0}, nil
}

type reply struct {
	text string
	err  error
}

// fakeGenerator answers drafting and validation prompts from two scripts.
// The last entry of a script repeats once it is used up.
type fakeGenerator struct {
	mu            sync.Mutex
	drafts        []reply
	verdicts      []reply
	draftCalls    int
	validateCalls int
	prompts       []string // drafting system prompts

	gate    chan struct{} // when set, drafting blocks until closed
	entered chan struct{}
}

func (g *fakeGenerator) Complete(ctx context.Context, system, user string) (string, error) {
	g.mu.Lock()
	if strings.HasPrefix(system, validatorRole) {
		r := pick(g.verdicts, g.validateCalls)
		g.validateCalls++
		g.mu.Unlock()
		return r.text, r.err
	}
	r := pick(g.drafts, g.draftCalls)
	g.draftCalls++
	g.prompts = append(g.prompts, system)
	gate, entered := g.gate, g.entered
	g.mu.Unlock()

	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return r.text, r.err
}

func (g *fakeGenerator) script(drafts, verdicts []reply) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.drafts, g.verdicts = drafts, verdicts
	g.draftCalls, g.validateCalls = 0, 0
	g.prompts = nil
}

func (g *fakeGenerator) counts() (drafts, validations int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.draftCalls, g.validateCalls
}

func (g *fakeGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

func pick(script []reply, i int) reply {
	if len(script) == 0 {
		return reply{}
	}
	if i >= len(script) {
		i = len(script) - 1
	}
	return script[i]
}

type fakeSender struct {
	mu    sync.Mutex
	errs  []error
	sent  []*models.OutboundReply
	delay time.Duration
}

func (s *fakeSender) Send(ctx context.Context, account *models.Account, r *models.OutboundReply) error {
	s.mu.Lock()
	delay := s.delay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return err
	}
	s.sent = append(s.sent, r)
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fakeNotifier struct {
	mu       sync.Mutex
	statuses []models.Status
}

func (n *fakeNotifier) Notify(ctx context.Context, account *models.Account, msg *models.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, msg.Status)
}

func (n *fakeNotifier) got() []models.Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.Status(nil), n.statuses...)
}

type fakeQueue struct {
	mu  sync.Mutex
	ids []int64
}

func (q *fakeQueue) Enqueue(ctx context.Context, accountID, messageID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, messageID)
	return nil
}

// recordingStore remembers every persisted status per message
type recordingStore struct {
	*database.DB
	mu      sync.Mutex
	history map[int64][]models.Status
}

func (s *recordingStore) SaveMessage(ctx context.Context, msg *models.Message, expect models.Status) error {
	if err := s.DB.SaveMessage(ctx, msg, expect); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[msg.ID] = append(s.history[msg.ID], msg.Status)
	return nil
}

func (s *recordingStore) statuses(id int64) []models.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Status(nil), s.history[id]...)
}

type rejected struct{}

func (rejected) Error() string   { return "mailbox unavailable" }
func (rejected) Temporary() bool { return false }

type fixture struct {
	db      *database.DB
	store   *recordingStore
	embed   *fakeEmbedder
	gen     *fakeGenerator
	sender  *fakeSender
	notes   *fakeNotifier
	queue   *fakeQueue
	p       *Pipeline
	account *models.Account
	nextUID uint32
}

func newFixture(t *testing.T, mutate ...func(*models.Account)) *fixture {
	t.Helper()
	ctx := context.Background()
	db := dbtest.New(t)

	intents := []*models.Intent{
		{
			Name:                "Sales Inquiry",
			Description:         "Questions about pricing and plans",
			SystemPrompt:        "Point to the pricing page.",
			Embedding:           models.Vector{1, 0},
			ConfidenceThreshold: 0.7,
			Version:             1,
		},
		{
			Name:                "Support Request",
			Description:         "Something is broken",
			Embedding:           models.Vector{0, 1},
			ConfidenceThreshold: 0.7,
			Version:             1,
		},
	}
	for _, in := range intents {
		if err := db.UpsertIntent(ctx, in); err != nil {
			t.Fatalf("UpsertIntent() error = %v", err)
		}
	}
	kb := &models.KnowledgeEntry{Title: "Plans", Content: "Plans start at $10 per month.", Embedding: models.Vector{1, 0}, Version: 1}
	if err := db.UpsertKnowledgeEntry(ctx, kb); err != nil {
		t.Fatalf("UpsertKnowledgeEntry() error = %v", err)
	}

	f := &fixture{
		db:      db,
		store:   &recordingStore{DB: db, history: make(map[int64][]models.Status)},
		embed:   &fakeEmbedder{},
		gen:     &fakeGenerator{},
		sender:  &fakeSender{},
		notes:   &fakeNotifier{},
		queue:   &fakeQueue{},
		account: dbtest.Account(t, db, "support@example.com", mutate...),
	}
	f.gen.script([]reply{{text: "Thanks for asking. Our plans start at $10 per month."}}, []reply{{text: "PASS: covers pricing"}})

	fast := retry.Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond}
	stages := Stages{
		Classifier: NewClassifier(f.embed, 3, 2000),
		Retriever:  NewRetriever(0.6, 3),
		Drafter:    NewDrafter(f.gen),
		Validator:  NewValidator(f.gen),
		Dispatcher: NewDispatcher(f.sender, 2, fast),
	}
	f.p = New(f.store, stages, Config{MaxRedrafts: 3, ServiceRetries: 3, Backoff: fast}, discard)
	f.p.SetNotifier(f.notes)
	f.p.SetQueue(f.queue)
	return f
}

func (f *fixture) message(t *testing.T, subject, body string) *models.Message {
	t.Helper()
	f.nextUID++
	msg := &models.Message{
		AccountID:   f.account.ID,
		UIDValidity: 1,
		UID:         f.nextUID,
		MessageID:   "<q1@customer.com>",
		FromAddr:    "alice@customer.com",
		FromName:    "Alice",
		Subject:     subject,
		BodyText:    body,
		ReceivedAt:  time.Now(),
	}
	if err := f.db.CreateMessage(context.Background(), msg); err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}
	return msg
}

func (f *fixture) reload(t *testing.T, id int64) *models.Message {
	t.Helper()
	msg, err := f.db.GetMessageByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetMessageByID() error = %v", err)
	}
	return msg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
