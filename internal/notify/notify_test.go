package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"talentlink/internal/config"
	"talentlink/internal/domain"
	"talentlink/internal/engine/auth"
	"talentlink/internal/logging"
	"talentlink/internal/mail"
	"talentlink/internal/repo"
	"talentlink/internal/testutil"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type testEnv struct {
	Ctx       context.Context
	Repo      repo.Repo
	Mailer    *recordingMailer
	Client    domain.User
	Freelance domain.User
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	r := repo.Repo{DB: testutil.OpenDB(t)}
	return testEnv{
		Ctx:       context.Background(),
		Repo:      r,
		Mailer:    &recordingMailer{},
		Client:    testutil.User(t, r, "carol", domain.RoleClient, "carol@example.com"),
		Freelance: testutil.User(t, r, "fred", domain.RoleFreelancer, "fred@example.com"),
	}
}

func (env testEnv) dispatcher(workers, queue int, overflow string) *Dispatcher {
	d := New(config.NotificationsConfig{Workers: workers, QueueSize: queue, Overflow: overflow}, env.Repo, env.Mailer, logging.Discard())
	d.Now = testutil.Clock
	return d
}

func proposalEvent(recipient string) Event {
	return Event{
		RecipientID: recipient,
		Type:        TypeProposalSubmitted,
		Title:       "New proposal",
		Message:     "fred sent a proposal",
		Email:       mail.TemplateProposalSubmitted,
		EmailData:   mail.Data{ActorName: "fred", ProjectTitle: "Logo"},
	}
}

func closeNow(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNotifyWritesRowThenSendsEmail(t *testing.T) {
	env := newTestEnv(t)
	d := env.dispatcher(2, 8, config.OverflowDropOldest)

	n, err := d.Notify(env.Ctx, proposalEvent(env.Client.ID))
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if n.ID == 0 || n.EmailStatus != domain.EmailPending {
		t.Fatalf("row should exist with pending email before workers run: %+v", n)
	}
	stored, err := env.Repo.GetNotification(env.Ctx, n.ID)
	if err != nil || stored.IsRead || stored.CreatedAt != "2024-03-01T09:30:00Z" {
		t.Fatalf("stored row: %+v err=%v", stored, err)
	}

	d.Start(env.Ctx)
	closeNow(t, d)

	stored, _ = env.Repo.GetNotification(env.Ctx, n.ID)
	if stored.EmailStatus != domain.EmailSent {
		t.Fatalf("expected sent, got %s (%s)", stored.EmailStatus, stored.EmailError)
	}
	if env.Mailer.count() != 1 || env.Mailer.sent[0].To != "carol@example.com" || env.Mailer.sent[0].Subject != "New Proposal for Logo" {
		t.Fatalf("unexpected mail: %+v", env.Mailer.sent)
	}
}

func TestEmailFailureIsRecordedNotPropagated(t *testing.T) {
	env := newTestEnv(t)
	env.Mailer.err = errors.New("smtp down")
	d := env.dispatcher(1, 4, config.OverflowDropOldest)
	d.Start(env.Ctx)

	n, err := d.Notify(env.Ctx, proposalEvent(env.Client.ID))
	if err != nil {
		t.Fatalf("email failure must not surface from notify: %v", err)
	}
	closeNow(t, d)

	stored, _ := env.Repo.GetNotification(env.Ctx, n.ID)
	if stored.EmailStatus != domain.EmailFailed || !strings.Contains(stored.EmailError, "smtp down") {
		t.Fatalf("expected failed email with cause, got %+v", stored)
	}
	if d.Stats().Failed != 1 {
		t.Fatalf("expected one failure, got %+v", d.Stats())
	}
}

func TestRecipientWithoutEmailIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	nomail := testutil.User(t, env.Repo, "nomail", domain.RoleClient, "")
	d := env.dispatcher(1, 4, config.OverflowDropOldest)
	d.Start(env.Ctx)

	n, err := d.Notify(env.Ctx, proposalEvent(nomail.ID))
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	closeNow(t, d)

	stored, _ := env.Repo.GetNotification(env.Ctx, n.ID)
	if stored.EmailStatus != domain.EmailSkipped {
		t.Fatalf("expected skipped, got %s", stored.EmailStatus)
	}
	if env.Mailer.count() != 0 {
		t.Fatalf("no email should be sent")
	}
}

func TestInAppOnlyEventNeverQueues(t *testing.T) {
	env := newTestEnv(t)
	d := env.dispatcher(1, 1, config.OverflowRejectNew)
	ev := proposalEvent(env.Client.ID)
	ev.Email = ""
	for i := 0; i < 3; i++ {
		n, err := d.Notify(env.Ctx, ev)
		if err != nil || n.EmailStatus != domain.EmailSkipped {
			t.Fatalf("in-app notify %d: %+v err=%v", i, n, err)
		}
	}
	if d.Stats().Queued != 0 {
		t.Fatalf("nothing should be queued")
	}
}

func TestDropOldestEvictsFirstQueuedEmail(t *testing.T) {
	env := newTestEnv(t)
	d := env.dispatcher(1, 2, config.OverflowDropOldest)

	var ids []int64
	for i := 0; i < 3; i++ {
		n, err := d.Notify(env.Ctx, proposalEvent(env.Client.ID))
		if err != nil {
			t.Fatalf("notify %d: %v", i, err)
		}
		ids = append(ids, n.ID)
	}
	if s := d.Stats(); s.Dropped != 1 || s.Queued != 2 {
		t.Fatalf("expected one drop and a full queue, got %+v", s)
	}
	first, _ := env.Repo.GetNotification(env.Ctx, ids[0])
	if first.EmailStatus != domain.EmailFailed || first.EmailError != ErrQueueFull.Error() {
		t.Fatalf("evicted job should be recorded as failed: %+v", first)
	}

	d.Start(env.Ctx)
	closeNow(t, d)
	for _, id := range ids[1:] {
		n, _ := env.Repo.GetNotification(env.Ctx, id)
		if n.EmailStatus != domain.EmailSent {
			t.Fatalf("notification %d: expected sent, got %s", id, n.EmailStatus)
		}
	}
	if env.Mailer.count() != 2 {
		t.Fatalf("expected 2 emails, got %d", env.Mailer.count())
	}
}

func TestRejectNewRefusesWhenFull(t *testing.T) {
	env := newTestEnv(t)
	d := env.dispatcher(1, 1, config.OverflowRejectNew)

	if _, err := d.Notify(env.Ctx, proposalEvent(env.Client.ID)); err != nil {
		t.Fatalf("first notify: %v", err)
	}
	n, err := d.Notify(env.Ctx, proposalEvent(env.Client.ID))
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	stored, getErr := env.Repo.GetNotification(env.Ctx, n.ID)
	if getErr != nil {
		t.Fatalf("rejected email must keep its in-app row: %v", getErr)
	}
	if stored.EmailStatus != domain.EmailFailed {
		t.Fatalf("expected failed email status, got %s", stored.EmailStatus)
	}
	if d.Stats().Rejected != 1 {
		t.Fatalf("expected one rejection, got %+v", d.Stats())
	}
	if err := d.Dispatch(env.Ctx, proposalEvent(env.Client.ID)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("dispatch should be rejected too, got %v", err)
	}
}

func TestDispatchWritesRowOnWorker(t *testing.T) {
	env := newTestEnv(t)
	d := env.dispatcher(2, 8, config.OverflowDropOldest)
	d.Start(env.Ctx)

	ev := Event{
		RecipientID:    env.Freelance.ID,
		Type:           TypeNewMessage,
		Title:          "New message from carol",
		Message:        mail.Preview(strings.Repeat("x", 80)),
		ConversationID: "conv-1",
		Email:          mail.TemplateNewMessage,
		EmailData:      mail.Data{ActorName: "carol", Preview: "hi"},
	}
	if err := d.Dispatch(env.Ctx, ev); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	closeNow(t, d)

	list, err := d.List(env.Ctx, env.Freelance.ID, false, 10, 0)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one row, got %d err=%v", len(list), err)
	}
	if list[0].EmailStatus != domain.EmailSent || *list[0].ConversationID != "conv-1" {
		t.Fatalf("unexpected row: %+v", list[0])
	}
	if len([]rune(list[0].Message)) != 50 {
		t.Fatalf("preview should be truncated, got %q", list[0].Message)
	}
}

func TestMarkReadOnlyByRecipient(t *testing.T) {
	env := newTestEnv(t)
	d := env.dispatcher(1, 4, config.OverflowDropOldest)
	ev := proposalEvent(env.Client.ID)
	ev.Email = ""
	n, err := d.Notify(env.Ctx, ev)
	if err != nil {
		t.Fatalf("notify: %v", err)
	}

	_, err = d.MarkRead(env.Ctx, n.ID, env.Freelance.Actor())
	var forbidden auth.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	if c, _ := d.CountUnread(env.Ctx, env.Client.ID); c != 1 {
		t.Fatalf("expected 1 unread, got %d", c)
	}
	for i := 0; i < 2; i++ {
		got, err := d.MarkRead(env.Ctx, n.ID, env.Client.Actor())
		if err != nil || !got.IsRead {
			t.Fatalf("mark read #%d: %+v err=%v", i, got, err)
		}
	}
	if c, _ := d.CountUnread(env.Ctx, env.Client.ID); c != 0 {
		t.Fatalf("expected 0 unread, got %d", c)
	}
	if _, err := d.MarkRead(env.Ctx, 9999, env.Client.Actor()); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMarkAllReadAndPaging(t *testing.T) {
	env := newTestEnv(t)
	d := env.dispatcher(1, 4, config.OverflowDropOldest)
	ev := proposalEvent(env.Client.ID)
	ev.Email = ""
	var last int64
	for i := 0; i < 5; i++ {
		n, err := d.Notify(env.Ctx, ev)
		if err != nil {
			t.Fatalf("notify: %v", err)
		}
		last = n.ID
	}
	page, _ := d.List(env.Ctx, env.Client.ID, false, 2, 0)
	if len(page) != 2 || page[0].ID != last {
		t.Fatalf("first page should start at newest: %+v", page)
	}
	older, _ := d.List(env.Ctx, env.Client.ID, false, 10, page[1].ID)
	if len(older) != 3 {
		t.Fatalf("expected 3 older rows, got %d", len(older))
	}

	flipped, err := d.MarkAllRead(env.Ctx, env.Client.Actor())
	if err != nil || flipped != 5 {
		t.Fatalf("mark all: %d err=%v", flipped, err)
	}
	if unread, _ := d.List(env.Ctx, env.Client.ID, true, 10, 0); len(unread) != 0 {
		t.Fatalf("expected no unread rows, got %d", len(unread))
	}
	if flipped, _ := d.MarkAllRead(env.Ctx, env.Client.Actor()); flipped != 0 {
		t.Fatalf("second mark all should flip nothing, got %d", flipped)
	}
}

func TestClosedDispatcherRefusesJobs(t *testing.T) {
	env := newTestEnv(t)
	d := env.dispatcher(1, 4, config.OverflowDropOldest)
	d.Start(env.Ctx)
	closeNow(t, d)

	n, err := d.Notify(env.Ctx, proposalEvent(env.Client.ID))
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if n.ID == 0 {
		t.Fatalf("in-app row should still be written")
	}
	if err := d.Close(env.Ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestCloseAfterDeadlineStillWritesQueuedRows(t *testing.T) {
	env := newTestEnv(t)
	d := env.dispatcher(1, 32, config.OverflowDropOldest)
	ev := Event{
		RecipientID: env.Freelance.ID,
		Type:        TypeNewMessage,
		Title:       "New message from carol",
		Email:       mail.TemplateNewMessage,
		EmailData:   mail.Data{ActorName: "carol", Preview: "hi"},
	}
	for i := 0; i < 20; i++ {
		if err := d.Dispatch(env.Ctx, ev); err != nil {
			t.Fatalf("dispatch #%d: %v", i, err)
		}
	}
	d.Start(env.Ctx)

	spent, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Close(spent); err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("close: %v", err)
	}

	rows, err := d.List(env.Ctx, env.Freelance.ID, false, 50, 0)
	if err != nil || len(rows) != 20 {
		t.Fatalf("every queued row should be written, got %d err=%v", len(rows), err)
	}
	for _, n := range rows {
		if n.EmailStatus == domain.EmailPending {
			t.Fatalf("row %d left pending", n.ID)
		}
	}
	if got := int64(env.Mailer.count()); got != d.Stats().Sent {
		t.Fatalf("mailer saw %d sends, stats say %d", got, d.Stats().Sent)
	}
}
