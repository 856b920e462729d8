package reviews

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"talentlink/internal/domain"
	"talentlink/internal/engine/auth"
	"talentlink/internal/logging"
	"talentlink/internal/notify"
	"talentlink/internal/repo"
	"talentlink/internal/testutil"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(ctx context.Context, ev notify.Event) (domain.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return domain.Notification{RecipientID: ev.RecipientID, Type: ev.Type}, nil
}

type testEnv struct {
	Ctx        context.Context
	Repo       repo.Repo
	Ledger     *Ledger
	Notifier   *recordingNotifier
	Client     domain.User
	Freelancer domain.User
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn := testutil.OpenDB(t)
	r := repo.Repo{DB: conn}
	n := &recordingNotifier{}
	l := New(conn, n, logging.Discard())
	l.Now = testutil.Clock
	return testEnv{
		Ctx:        context.Background(),
		Repo:       r,
		Ledger:     l,
		Notifier:   n,
		Client:     testutil.User(t, r, "carol", domain.RoleClient, "carol@example.com"),
		Freelancer: testutil.User(t, r, "fred", domain.RoleFreelancer, "fred@example.com"),
	}
}

func TestCreateReview(t *testing.T) {
	env := newTestEnv(t)
	c := testutil.Contract(t, env.Repo, env.Client, env.Freelancer, "Logo design", domain.ContractCompleted)

	rv, err := env.Ledger.Create(env.Ctx, env.Client.Actor(), CreateOptions{ContractID: c.ID, Rating: 5, Comments: " great work "})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rv.RevieweeID != env.Freelancer.ID || rv.ReviewerID != env.Client.ID || rv.Comments != "great work" {
		t.Fatalf("unexpected review %+v", rv)
	}
	if len(env.Notifier.events) != 1 {
		t.Fatalf("expected one notification, got %d", len(env.Notifier.events))
	}
	ev := env.Notifier.events[0]
	if ev.RecipientID != env.Freelancer.ID || ev.Type != notify.TypeReviewReceived || ev.EmailData.Rating != 5 {
		t.Fatalf("unexpected event %+v", ev)
	}

	_, err = env.Ledger.Create(env.Ctx, env.Client.Actor(), CreateOptions{ContractID: c.ID, Rating: 4})
	var conflict domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict on second review, got %v", err)
	}

	got, err := env.Ledger.ForContract(env.Ctx, env.Freelancer.Actor(), c.ID)
	if err != nil {
		t.Fatalf("for contract: %v", err)
	}
	if diff := cmp.Diff([]domain.Review{rv}, got); diff != "" {
		t.Fatalf("reviews (-want +got):\n%s", diff)
	}
}

func TestCreateReviewGuards(t *testing.T) {
	env := newTestEnv(t)
	active := testutil.Contract(t, env.Repo, env.Client, env.Freelancer, "Website", domain.ContractActive)
	done := testutil.Contract(t, env.Repo, env.Client, env.Freelancer, "Copywriting", domain.ContractCompleted)

	if _, err := env.Ledger.Create(env.Ctx, env.Client.Actor(), CreateOptions{ContractID: "missing", Rating: 3}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	_, err := env.Ledger.Create(env.Ctx, env.Freelancer.Actor(), CreateOptions{ContractID: done.ID, Rating: 3})
	var forbidden auth.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden for freelancer, got %v", err)
	}

	_, err = env.Ledger.Create(env.Ctx, env.Client.Actor(), CreateOptions{ContractID: active.ID, Rating: 3})
	var invalid domain.InvalidStateError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected invalid state for active contract, got %v", err)
	}

	for _, rating := range []int{0, 6, -1} {
		_, err = env.Ledger.Create(env.Ctx, env.Client.Actor(), CreateOptions{ContractID: done.ID, Rating: rating})
		var verr domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("rating %d: expected validation error, got %v", rating, err)
		}
	}
	if len(env.Notifier.events) != 0 {
		t.Fatalf("rejected reviews notified: %+v", env.Notifier.events)
	}
}

func TestStatsAndReviewable(t *testing.T) {
	env := newTestEnv(t)
	ratings := []int{5, 4, 4}
	var first domain.Contract
	for i, rating := range ratings {
		c := testutil.Contract(t, env.Repo, env.Client, env.Freelancer, "Job", domain.ContractCompleted)
		if i == 0 {
			first = c
		}
		if _, err := env.Ledger.Create(env.Ctx, env.Client.Actor(), CreateOptions{ContractID: c.ID, Rating: rating}); err != nil {
			t.Fatalf("create #%d: %v", i, err)
		}
	}
	pending := testutil.Contract(t, env.Repo, env.Client, env.Freelancer, "Pending review", domain.ContractCompleted)
	testutil.Contract(t, env.Repo, env.Client, env.Freelancer, "Still running", domain.ContractActive)

	stats, err := env.Ledger.Stats(env.Ctx, env.Freelancer.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := domain.ReviewStats{
		AverageRating:      4.33,
		TotalReviews:       3,
		RatingDistribution: map[string]int{"1": 0, "2": 0, "3": 0, "4": 2, "5": 1},
	}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Fatalf("stats (-want +got):\n%s", diff)
	}

	empty, err := env.Ledger.Stats(env.Ctx, env.Client.ID)
	if err != nil || empty.TotalReviews != 0 || empty.AverageRating != 0 || len(empty.RatingDistribution) != 5 {
		t.Fatalf("unexpected empty stats %+v, %v", empty, err)
	}

	about, err := env.Ledger.ForUser(env.Ctx, env.Freelancer.ID)
	if err != nil || len(about) != 3 {
		t.Fatalf("for user = %d, %v", len(about), err)
	}

	items, err := env.Ledger.Reviewable(env.Ctx, env.Client.Actor())
	if err != nil {
		t.Fatalf("reviewable: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("expected 4 completed contracts, got %d", len(items))
	}
	byID := map[string]domain.ReviewableContract{}
	for _, it := range items {
		byID[it.ContractID] = it
	}
	if it := byID[pending.ID]; !it.CanReview || it.ExistingReview != nil || it.OtherPartyName != "fred" {
		t.Fatalf("pending contract = %+v", it)
	}
	if it := byID[first.ID]; it.CanReview || it.ExistingReview == nil || it.ExistingReview.Rating != 5 {
		t.Fatalf("reviewed contract = %+v", it)
	}

	if _, err := env.Ledger.Stats(env.Ctx, "nobody"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for unknown user, got %v", err)
	}
}

func TestReviewerEditsAndDeletes(t *testing.T) {
	env := newTestEnv(t)
	c := testutil.Contract(t, env.Repo, env.Client, env.Freelancer, "Logo design", domain.ContractCompleted)
	rv, err := env.Ledger.Create(env.Ctx, env.Client.Actor(), CreateOptions{ContractID: c.ID, Rating: 5, Comments: "great"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	low := 2
	var forbidden auth.ForbiddenError
	if _, err := env.Ledger.Update(env.Ctx, env.Freelancer.Actor(), UpdateOptions{ID: rv.ID, Rating: &low}); !errors.As(err, &forbidden) {
		t.Fatalf("only the reviewer may edit, got %v", err)
	}
	bad := 9
	var verr domain.ValidationError
	if _, err := env.Ledger.Update(env.Ctx, env.Client.Actor(), UpdateOptions{ID: rv.ID, Rating: &bad}); !errors.As(err, &verr) {
		t.Fatalf("rating 9 should fail validation, got %v", err)
	}
	comments := " late delivery "
	got, err := env.Ledger.Update(env.Ctx, env.Client.Actor(), UpdateOptions{ID: rv.ID, Rating: &low, Comments: &comments})
	if err != nil || got.Rating != 2 || got.Comments != "late delivery" {
		t.Fatalf("update: %+v err=%v", got, err)
	}
	if stats, _ := env.Ledger.Stats(env.Ctx, env.Freelancer.ID); stats.AverageRating != 2 {
		t.Fatalf("stats should follow the edit: %+v", stats)
	}

	if err := env.Ledger.Delete(env.Ctx, env.Freelancer.Actor(), rv.ID); !errors.As(err, &forbidden) {
		t.Fatalf("only the reviewer may delete, got %v", err)
	}
	if err := env.Ledger.Delete(env.Ctx, env.Client.Actor(), rv.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := env.Ledger.Delete(env.Ctx, env.Client.Actor(), rv.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second delete should be not found, got %v", err)
	}
	if _, err := env.Ledger.Create(env.Ctx, env.Client.Actor(), CreateOptions{ContractID: c.ID, Rating: 4}); err != nil {
		t.Fatalf("a deleted review can be written again: %v", err)
	}
}
