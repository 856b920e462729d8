package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"talentlink/internal/domain"
	"talentlink/internal/engine"
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
	return domain.Notification{ID: int64(len(n.events)), RecipientID: ev.RecipientID, Type: ev.Type}, nil
}

func (n *recordingNotifier) types(recipient string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, ev := range n.events {
		if ev.RecipientID == recipient {
			out = append(out, ev.Type)
		}
	}
	return out
}

type testEnv struct {
	Engine     engine.Engine
	Ctx        context.Context
	Notes      *recordingNotifier
	Client     domain.Actor
	Freelancer domain.Actor
	Outsider   domain.Actor
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn := testutil.OpenDB(t)
	notes := &recordingNotifier{}
	eng := engine.New(conn, notes, logging.Discard())
	eng.Now = testutil.Clock
	r := repo.Repo{DB: conn}
	return testEnv{
		Engine:     eng,
		Ctx:        context.Background(),
		Notes:      notes,
		Client:     testutil.User(t, r, "carol", domain.RoleClient, "carol@example.com").Actor(),
		Freelancer: testutil.User(t, r, "fred", domain.RoleFreelancer, "fred@example.com").Actor(),
		Outsider:   testutil.User(t, r, "olga", domain.RoleFreelancer, "olga@example.com").Actor(),
	}
}

func (env testEnv) project(t *testing.T) domain.Project {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, env.Client, engine.ProjectCreateOptions{Title: "Landing page", Description: "One pager", BudgetCents: 80000})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

// draftContract walks a project to a draft contract between Client and Freelancer.
func (env testEnv) draftContract(t *testing.T) domain.Contract {
	t.Helper()
	p := env.project(t)
	prop, err := env.Engine.SubmitProposal(env.Ctx, env.Freelancer, engine.ProposalSubmitOptions{ProjectID: p.ID, BidCents: 50000})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.DecideProposal(env.Ctx, env.Client, prop.ID, true); err != nil {
		t.Fatalf("accept: %v", err)
	}
	c, err := env.Engine.CreateContract(env.Ctx, env.Client, engine.ContractCreateOptions{ProposalID: prop.ID})
	if err != nil {
		t.Fatalf("create contract: %v", err)
	}
	return c
}

func (env testEnv) activeContract(t *testing.T) domain.Contract {
	t.Helper()
	c := env.draftContract(t)
	for _, a := range []domain.Actor{env.Client, env.Freelancer} {
		var err error
		c, err = env.Engine.Sign(env.Ctx, a, engine.SignOptions{ContractID: c.ID, Action: engine.SignActionSign})
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
	}
	if c.Status != domain.ContractActive {
		t.Fatalf("expected active, got %s", c.Status)
	}
	return c
}

func (env testEnv) history(t *testing.T, contractID string) []domain.ContractStatusChange {
	t.Helper()
	h, err := env.Engine.ContractHistory(env.Ctx, env.Client, contractID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	return h
}

func transitions(h []domain.ContractStatusChange) []string {
	out := make([]string, len(h))
	for i, e := range h {
		out[len(h)-1-i] = e.OldStatus + ">" + e.NewStatus
	}
	return out
}

func isForbidden(err error) bool {
	var f auth.ForbiddenError
	return errors.As(err, &f)
}

func isInvalidState(err error) bool {
	var s domain.InvalidStateError
	return errors.As(err, &s)
}

func TestHiringScenario(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t)

	prop, err := env.Engine.SubmitProposal(env.Ctx, env.Freelancer, engine.ProposalSubmitOptions{ProjectID: p.ID, BidCents: 50000, Message: "I can do it"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got, _ := env.Engine.GetProject(env.Ctx, p.ID); got.Status != domain.ProjectOpen {
		t.Fatalf("project should stay open after a proposal, got %s", got.Status)
	}
	if diff := cmp.Diff([]string{notify.TypeProposalSubmitted}, env.Notes.types(env.Client.ID)); diff != "" {
		t.Fatalf("client notifications (-want +got):\n%s", diff)
	}

	prop, err = env.Engine.DecideProposal(env.Ctx, env.Client, prop.ID, true)
	if err != nil || prop.Status != domain.ProposalAccepted {
		t.Fatalf("accept: %+v err=%v", prop, err)
	}

	c, err := env.Engine.CreateContract(env.Ctx, env.Client, engine.ContractCreateOptions{ProposalID: prop.ID, Deliverables: "Figma + HTML"})
	if err != nil {
		t.Fatalf("create contract: %v", err)
	}
	if c.Status != domain.ContractDraft || c.AgreedCents != 50000 || c.Title != "Landing page" || c.StartDate != "2024-03-01" {
		t.Fatalf("unexpected contract: %+v", c)
	}
	if got, _ := env.Engine.GetProject(env.Ctx, p.ID); got.Status != domain.ProjectInProgress {
		t.Fatalf("project should be in progress, got %s", got.Status)
	}
	h := env.history(t, c.ID)
	if len(h) != 1 || h[0].OldStatus != "" || h[0].NewStatus != domain.ContractDraft {
		t.Fatalf("expected creation marker, got %+v", h)
	}

	c, err = env.Engine.Sign(env.Ctx, env.Client, engine.SignOptions{ContractID: c.ID})
	if err != nil || c.Status != domain.ContractDraft || c.ClientSignedAt == nil {
		t.Fatalf("client sign: %+v err=%v", c, err)
	}
	c, err = env.Engine.Sign(env.Ctx, env.Freelancer, engine.SignOptions{ContractID: c.ID, Action: engine.SignActionSign})
	if err != nil || c.Status != domain.ContractActive || !c.IsFullySigned() {
		t.Fatalf("freelancer sign: %+v err=%v", c, err)
	}
	if h := env.history(t, c.ID); h[0].Reason != "Both parties signed the contract" {
		t.Fatalf("unexpected activation reason %q", h[0].Reason)
	}

	if _, err := env.Engine.UpdateProgress(env.Ctx, env.Freelancer, c.ID, 100); err != nil {
		t.Fatalf("progress 100: %v", err)
	}
	if _, err := env.Engine.UpdateProgress(env.Ctx, env.Freelancer, c.ID, 100); !isInvalidState(err) {
		t.Fatalf("second progress on completed contract should be invalid state, got %v", err)
	}
	got, err := env.Engine.GetContract(env.Ctx, env.Client, c.ID)
	if err != nil {
		t.Fatalf("get contract: %v", err)
	}
	if got.Status != domain.ContractCompleted || got.EndDate == nil || *got.EndDate != "2024-03-01" || got.Progress != 100 {
		t.Fatalf("unexpected completed contract: %+v", got)
	}
	if proj, _ := env.Engine.GetProject(env.Ctx, p.ID); proj.Status != domain.ProjectCompleted {
		t.Fatalf("project should be completed, got %s", proj.Status)
	}

	h = env.history(t, c.ID)
	want := []string{">draft", "draft>active", "active>completed"}
	if diff := cmp.Diff(want, transitions(h)); diff != "" {
		t.Fatalf("history (-want +got):\n%s", diff)
	}
	if h[0].Reason != "Automatically completed - progress reached 100%" || h[0].ChangedBy != env.Freelancer.ID {
		t.Fatalf("unexpected completion entry %+v", h[0])
	}

	wantFreelancer := []string{notify.TypeProposalAccepted, notify.TypeContractCreated, notify.TypeContractSigned}
	if diff := cmp.Diff(wantFreelancer, env.Notes.types(env.Freelancer.ID)); diff != "" {
		t.Fatalf("freelancer notifications (-want +got):\n%s", diff)
	}
	wantClient := []string{notify.TypeProposalSubmitted, notify.TypeContractActivated, notify.TypeContractCompleted}
	if diff := cmp.Diff(wantClient, env.Notes.types(env.Client.ID)); diff != "" {
		t.Fatalf("client notifications (-want +got):\n%s", diff)
	}
}

func TestSubmitProposalGuards(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t)

	if _, err := env.Engine.SubmitProposal(env.Ctx, env.Client, engine.ProposalSubmitOptions{ProjectID: p.ID, BidCents: 100}); !isForbidden(err) {
		t.Fatalf("client bidding should be forbidden, got %v", err)
	}
	var verr domain.ValidationError
	if _, err := env.Engine.SubmitProposal(env.Ctx, env.Freelancer, engine.ProposalSubmitOptions{ProjectID: p.ID, BidCents: 0}); !errors.As(err, &verr) {
		t.Fatalf("zero bid should fail validation, got %v", err)
	}
	if _, err := env.Engine.SubmitProposal(env.Ctx, env.Freelancer, engine.ProposalSubmitOptions{ProjectID: "missing", BidCents: 100}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	c := env.draftContract(t)
	if _, err := env.Engine.SubmitProposal(env.Ctx, env.Outsider, engine.ProposalSubmitOptions{ProjectID: c.ProjectID, BidCents: 100}); !isInvalidState(err) {
		t.Fatalf("bidding on an in-progress project should be invalid state, got %v", err)
	}
}

func TestDecideProposalOnlyOnce(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t)
	prop, _ := env.Engine.SubmitProposal(env.Ctx, env.Freelancer, engine.ProposalSubmitOptions{ProjectID: p.ID, BidCents: 100})

	if _, err := env.Engine.DecideProposal(env.Ctx, env.Freelancer, prop.ID, true); !isForbidden(err) {
		t.Fatalf("freelancer deciding should be forbidden, got %v", err)
	}
	if _, err := env.Engine.DecideProposal(env.Ctx, env.Client, prop.ID, false); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := env.Engine.DecideProposal(env.Ctx, env.Client, prop.ID, true); !isInvalidState(err) {
		t.Fatalf("re-deciding should be invalid state, got %v", err)
	}
	if _, err := env.Engine.UpdateProposal(env.Ctx, env.Freelancer, engine.ProposalUpdateOptions{ID: prop.ID}); !isInvalidState(err) {
		t.Fatalf("editing a decided proposal should be invalid state, got %v", err)
	}
	if diff := cmp.Diff([]string{notify.TypeProposalRejected}, env.Notes.types(env.Freelancer.ID)); diff != "" {
		t.Fatalf("freelancer notifications (-want +got):\n%s", diff)
	}
}

func TestUpdatePendingProposal(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t)
	prop, _ := env.Engine.SubmitProposal(env.Ctx, env.Freelancer, engine.ProposalSubmitOptions{ProjectID: p.ID, BidCents: 100})

	bid := int64(250)
	msg := "revised"
	got, err := env.Engine.UpdateProposal(env.Ctx, env.Freelancer, engine.ProposalUpdateOptions{ID: prop.ID, BidCents: &bid, Message: &msg})
	if err != nil || got.BidCents != 250 || got.Message != "revised" {
		t.Fatalf("update: %+v err=%v", got, err)
	}
	if _, err := env.Engine.UpdateProposal(env.Ctx, env.Outsider, engine.ProposalUpdateOptions{ID: prop.ID, BidCents: &bid}); !isForbidden(err) {
		t.Fatalf("only the author may edit, got %v", err)
	}
	if _, err := env.Engine.GetProposal(env.Ctx, env.Outsider, prop.ID); !isForbidden(err) {
		t.Fatalf("outsiders may not view proposals, got %v", err)
	}
	list, err := env.Engine.ProjectProposals(env.Ctx, env.Client, p.ID)
	if err != nil || len(list) != 1 || list[0].BidCents != 250 {
		t.Fatalf("project proposals: %+v err=%v", list, err)
	}
}

func TestCreateContractGuards(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t)
	prop, _ := env.Engine.SubmitProposal(env.Ctx, env.Freelancer, engine.ProposalSubmitOptions{ProjectID: p.ID, BidCents: 100})

	if _, err := env.Engine.CreateContract(env.Ctx, env.Client, engine.ContractCreateOptions{ProposalID: prop.ID}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("pending proposal should not be contractable, got %v", err)
	}
	if _, err := env.Engine.DecideProposal(env.Ctx, env.Client, prop.ID, true); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateContract(env.Ctx, env.Freelancer, engine.ContractCreateOptions{ProposalID: prop.ID}); !isForbidden(err) {
		t.Fatalf("freelancer creating contract should be forbidden, got %v", err)
	}
	var verr domain.ValidationError
	if _, err := env.Engine.CreateContract(env.Ctx, env.Client, engine.ContractCreateOptions{ProposalID: prop.ID, PaymentMethod: "barter"}); !errors.As(err, &verr) {
		t.Fatalf("bad payment method should fail validation, got %v", err)
	}
	if _, err := env.Engine.CreateContract(env.Ctx, env.Client, engine.ContractCreateOptions{ProposalID: prop.ID, StartDate: "2024-03-10", EndDate: "2024-03-01"}); !errors.As(err, &verr) {
		t.Fatalf("end before start should fail validation, got %v", err)
	}
	if _, err := env.Engine.CreateContract(env.Ctx, env.Client, engine.ContractCreateOptions{ProposalID: prop.ID}); err != nil {
		t.Fatalf("create: %v", err)
	}
	var conflict domain.ConflictError
	if _, err := env.Engine.CreateContract(env.Ctx, env.Client, engine.ContractCreateOptions{ProposalID: prop.ID}); !errors.As(err, &conflict) {
		t.Fatalf("second contract should conflict, got %v", err)
	}
}

func TestSingleSignerCannotActivate(t *testing.T) {
	env := newTestEnv(t)
	c := env.draftContract(t)
	for i := 0; i < 2; i++ {
		var err error
		c, err = env.Engine.Sign(env.Ctx, env.Client, engine.SignOptions{ContractID: c.ID})
		if err != nil {
			t.Fatalf("sign #%d: %v", i, err)
		}
	}
	if c.Status != domain.ContractDraft || c.FreelancerSignedAt != nil || c.CanActivate() {
		t.Fatalf("one signer twice must not activate: %+v", c)
	}
	if h := env.history(t, c.ID); len(h) != 1 {
		t.Fatalf("signing alone should not add history, got %d rows", len(h))
	}
	if _, err := env.Engine.Sign(env.Ctx, env.Outsider, engine.SignOptions{ContractID: c.ID}); !isForbidden(err) {
		t.Fatalf("outsider signing should be forbidden, got %v", err)
	}
}

func TestRejectTerminatesAndStaysTerminal(t *testing.T) {
	env := newTestEnv(t)
	c := env.draftContract(t)

	c, err := env.Engine.Sign(env.Ctx, env.Freelancer, engine.SignOptions{ContractID: c.ID, Action: engine.SignActionReject, Reason: "scope changed"})
	if err != nil || c.Status != domain.ContractTerminated {
		t.Fatalf("reject: %+v err=%v", c, err)
	}
	prop, _ := env.Engine.GetProposal(env.Ctx, env.Freelancer, c.ProposalID)
	if prop.Status != domain.ProposalRejected {
		t.Fatalf("proposal should be rejected, got %s", prop.Status)
	}
	h := env.history(t, c.ID)
	if h[0].Reason != "Contract rejected: scope changed" {
		t.Fatalf("unexpected reason %q", h[0].Reason)
	}

	if _, err := env.Engine.Sign(env.Ctx, env.Client, engine.SignOptions{ContractID: c.ID}); !isInvalidState(err) {
		t.Fatalf("signing terminated contract should be invalid state, got %v", err)
	}
	if _, err := env.Engine.UpdateProgress(env.Ctx, env.Freelancer, c.ID, 100); !isInvalidState(err) {
		t.Fatalf("progress on terminated contract should be invalid state, got %v", err)
	}
	if _, err := env.Engine.UpdateStatusDirect(env.Ctx, env.Client, c.ID, domain.ContractCompleted, ""); !isInvalidState(err) {
		t.Fatalf("completing a terminated contract should be invalid state, got %v", err)
	}
	if n := len(env.history(t, c.ID)); n != 2 {
		t.Fatalf("expected 2 history rows, got %d", n)
	}
}

func TestProgressGuards(t *testing.T) {
	env := newTestEnv(t)
	c := env.activeContract(t)

	if _, err := env.Engine.UpdateProgress(env.Ctx, env.Client, c.ID, 10); !isForbidden(err) {
		t.Fatalf("client reporting progress should be forbidden, got %v", err)
	}
	var verr domain.ValidationError
	if _, err := env.Engine.UpdateProgress(env.Ctx, env.Freelancer, c.ID, 101); !errors.As(err, &verr) {
		t.Fatalf("101 should fail validation, got %v", err)
	}
	got, err := env.Engine.UpdateProgress(env.Ctx, env.Freelancer, c.ID, 40)
	if err != nil || got.Progress != 40 || got.Status != domain.ContractActive || got.ProgressUpdatedAt == nil {
		t.Fatalf("progress 40: %+v err=%v", got, err)
	}
	if n := len(env.history(t, c.ID)); n != 2 {
		t.Fatalf("partial progress should not add history, got %d rows", n)
	}
}

func TestManualCompletionSharesCascade(t *testing.T) {
	env := newTestEnv(t)
	c := env.activeContract(t)

	got, err := env.Engine.UpdateStatusDirect(env.Ctx, env.Client, c.ID, domain.ContractCompleted, "")
	if err != nil || got.Status != domain.ContractCompleted || got.EndDate == nil {
		t.Fatalf("manual complete: %+v err=%v", got, err)
	}
	again, err := env.Engine.UpdateStatusDirect(env.Ctx, env.Freelancer, c.ID, domain.ContractCompleted, "done")
	if err != nil || again.Status != domain.ContractCompleted {
		t.Fatalf("repeating completion should be a no-op: %+v err=%v", again, err)
	}
	if _, err := env.Engine.UpdateProgress(env.Ctx, env.Freelancer, c.ID, 100); !isInvalidState(err) {
		t.Fatalf("progress after completion should be invalid state, got %v", err)
	}

	h := env.history(t, c.ID)
	if diff := cmp.Diff([]string{">draft", "draft>active", "active>completed"}, transitions(h)); diff != "" {
		t.Fatalf("history (-want +got):\n%s", diff)
	}
	if h[0].Reason != "Contract manually marked as completed" {
		t.Fatalf("unexpected reason %q", h[0].Reason)
	}
	if p, _ := env.Engine.GetProject(env.Ctx, c.ProjectID); p.Status != domain.ProjectCompleted {
		t.Fatalf("project should be completed, got %s", p.Status)
	}
}

func TestDisputeTransitions(t *testing.T) {
	env := newTestEnv(t)
	c := env.activeContract(t)

	got, err := env.Engine.UpdateStatusDirect(env.Ctx, env.Freelancer, c.ID, domain.ContractDisputed, "late payment")
	if err != nil || got.Status != domain.ContractDisputed {
		t.Fatalf("dispute: %+v err=%v", got, err)
	}
	if _, err := env.Engine.UpdateProgress(env.Ctx, env.Freelancer, c.ID, 50); !isInvalidState(err) {
		t.Fatalf("progress while disputed should be invalid state, got %v", err)
	}
	if _, err := env.Engine.UpdateStatusDirect(env.Ctx, env.Outsider, c.ID, domain.ContractActive, ""); !isForbidden(err) {
		t.Fatalf("outsider should be forbidden, got %v", err)
	}
	got, err = env.Engine.UpdateStatusDirect(env.Ctx, env.Client, c.ID, domain.ContractActive, "resolved")
	if err != nil || got.Status != domain.ContractActive {
		t.Fatalf("resolve: %+v err=%v", got, err)
	}
	var verr domain.ValidationError
	if _, err := env.Engine.UpdateStatusDirect(env.Ctx, env.Client, c.ID, "paused", ""); !errors.As(err, &verr) {
		t.Fatalf("unknown status should fail validation, got %v", err)
	}
	want := []string{">draft", "draft>active", "active>disputed", "disputed>active"}
	if diff := cmp.Diff(want, transitions(env.history(t, c.ID))); diff != "" {
		t.Fatalf("history (-want +got):\n%s", diff)
	}
}

func TestUnsignedDraftCannotBeForcedActive(t *testing.T) {
	env := newTestEnv(t)
	c := env.draftContract(t)
	if _, err := env.Engine.UpdateStatusDirect(env.Ctx, env.Client, c.ID, domain.ContractActive, ""); !isInvalidState(err) {
		t.Fatalf("activating without signatures should be invalid state, got %v", err)
	}
}

func TestHooksRunAfterCommit(t *testing.T) {
	env := newTestEnv(t)
	var created []string
	var changes []string
	env.Engine.Hooks = engine.Hooks{
		ContractCreated: func(ctx context.Context, c domain.Contract, actor domain.Actor) {
			created = append(created, c.ID)
		},
		ContractStatusChanged: func(ctx context.Context, c domain.Contract, change domain.ContractStatusChange) {
			changes = append(changes, change.OldStatus+">"+change.NewStatus)
		},
	}
	c := env.activeContract(t)
	if _, err := env.Engine.UpdateProgress(env.Ctx, env.Freelancer, c.ID, 100); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{c.ID}, created); diff != "" {
		t.Fatalf("created hook (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"draft>active", "active>completed"}, changes); diff != "" {
		t.Fatalf("status hook (-want +got):\n%s", diff)
	}
}

func TestContractReadsArePartyOnly(t *testing.T) {
	env := newTestEnv(t)
	c := env.draftContract(t)
	if _, err := env.Engine.GetContract(env.Ctx, env.Outsider, c.ID); !isForbidden(err) {
		t.Fatalf("outsider read should be forbidden, got %v", err)
	}
	if _, err := env.Engine.ContractHistory(env.Ctx, env.Outsider, c.ID); !isForbidden(err) {
		t.Fatalf("outsider history should be forbidden, got %v", err)
	}
	mine, err := env.Engine.ListContracts(env.Ctx, env.Freelancer, "")
	if err != nil || len(mine) != 1 || mine[0].ID != c.ID {
		t.Fatalf("list: %+v err=%v", mine, err)
	}
	if none, _ := env.Engine.ListContracts(env.Ctx, env.Outsider, ""); len(none) != 0 {
		t.Fatalf("outsider should see no contracts")
	}
}

func TestProjectOwnership(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateProject(env.Ctx, env.Freelancer, engine.ProjectCreateOptions{Title: "x"}); !isForbidden(err) {
		t.Fatalf("freelancers may not post projects, got %v", err)
	}
	p := env.project(t)
	title := "Landing page v2"
	got, err := env.Engine.UpdateProject(env.Ctx, env.Client, engine.ProjectUpdateOptions{ID: p.ID, Title: &title})
	if err != nil || got.Title != title || got.BudgetCents != 80000 {
		t.Fatalf("update: %+v err=%v", got, err)
	}
	other := testutil.User(t, env.Engine.Repo, "cleo", domain.RoleClient, "")
	if _, err := env.Engine.UpdateProject(env.Ctx, other.Actor(), engine.ProjectUpdateOptions{ID: p.ID, Title: &title}); !isForbidden(err) {
		t.Fatalf("non-owner update should be forbidden, got %v", err)
	}
	open, err := env.Engine.ListProjects(env.Ctx, repo.ProjectFilters{Status: domain.ProjectOpen})
	if err != nil || len(open) != 1 {
		t.Fatalf("list open: %+v err=%v", open, err)
	}
}

func TestRejectWithoutReason(t *testing.T) {
	env := newTestEnv(t)
	c := env.draftContract(t)
	if _, err := env.Engine.Sign(env.Ctx, env.Client, engine.SignOptions{ContractID: c.ID, Action: engine.SignActionReject, Reason: "  "}); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if h := env.history(t, c.ID); h[0].Reason != "Contract rejected" {
		t.Fatalf("unexpected reason %q", h[0].Reason)
	}
}

func TestDeleteProject(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t)
	if _, err := env.Engine.SubmitProposal(env.Ctx, env.Freelancer, engine.ProposalSubmitOptions{ProjectID: p.ID, BidCents: 100}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := env.Engine.DeleteProject(env.Ctx, env.Freelancer, p.ID); !isForbidden(err) {
		t.Fatalf("only the owner may delete, got %v", err)
	}
	if err := env.Engine.DeleteProject(env.Ctx, env.Client, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.GetProject(env.Ctx, p.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("project should be gone, got %v", err)
	}
	if mine, _ := env.Engine.ListProposals(env.Ctx, env.Freelancer, ""); len(mine) != 0 {
		t.Fatalf("proposals should go with the project, got %d", len(mine))
	}
	if err := env.Engine.DeleteProject(env.Ctx, env.Client, p.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second delete should be not found, got %v", err)
	}

	c := env.draftContract(t)
	var conflict domain.ConflictError
	if err := env.Engine.DeleteProject(env.Ctx, env.Client, c.ProjectID); !errors.As(err, &conflict) {
		t.Fatalf("a project with a contract must be kept, got %v", err)
	}
	if _, err := env.Engine.GetContract(env.Ctx, env.Client, c.ID); err != nil {
		t.Fatalf("contract should survive: %v", err)
	}
}

func TestWithdrawProposal(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t)
	prop, _ := env.Engine.SubmitProposal(env.Ctx, env.Freelancer, engine.ProposalSubmitOptions{ProjectID: p.ID, BidCents: 100})

	if err := env.Engine.WithdrawProposal(env.Ctx, env.Outsider, prop.ID); !isForbidden(err) {
		t.Fatalf("only the author may withdraw, got %v", err)
	}
	if err := env.Engine.WithdrawProposal(env.Ctx, env.Freelancer, prop.ID); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if _, err := env.Engine.GetProposal(env.Ctx, env.Freelancer, prop.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("withdrawn proposal should be gone, got %v", err)
	}

	decided, _ := env.Engine.SubmitProposal(env.Ctx, env.Freelancer, engine.ProposalSubmitOptions{ProjectID: p.ID, BidCents: 200})
	if _, err := env.Engine.DecideProposal(env.Ctx, env.Client, decided.ID, true); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := env.Engine.WithdrawProposal(env.Ctx, env.Freelancer, decided.ID); !isInvalidState(err) {
		t.Fatalf("a decided proposal cannot be withdrawn, got %v", err)
	}
}

func TestConcurrentCompletionRunsOnce(t *testing.T) {
	env := newTestEnv(t)
	c := env.activeContract(t)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Engine.UpdateProgress(env.Ctx, env.Freelancer, c.ID, 100)
			if err != nil {
				errs <- err
				return
			}
			mu.Lock()
			succeeded++
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(errs)

	if succeeded != 1 {
		t.Fatalf("expected exactly one completion, got %d", succeeded)
	}
	for err := range errs {
		if !isInvalidState(err) {
			t.Fatalf("losers should fail with invalid state, got %v", err)
		}
	}
	if diff := cmp.Diff([]string{">draft", "draft>active", "active>completed"}, transitions(env.history(t, c.ID))); diff != "" {
		t.Fatalf("history (-want +got):\n%s", diff)
	}
}

func TestConcurrentSignaturesActivate(t *testing.T) {
	env := newTestEnv(t)
	c := env.draftContract(t)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, a := range []domain.Actor{env.Client, env.Freelancer} {
		wg.Add(1)
		go func(a domain.Actor) {
			defer wg.Done()
			_, err := env.Engine.Sign(env.Ctx, a, engine.SignOptions{ContractID: c.ID, Action: engine.SignActionSign})
			errs <- err
		}(a)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
	}

	got, err := env.Engine.GetContract(env.Ctx, env.Client, c.ID)
	if err != nil || got.Status != domain.ContractActive {
		t.Fatalf("both signatures should activate: %+v err=%v", got, err)
	}
	if diff := cmp.Diff([]string{">draft", "draft>active"}, transitions(env.history(t, c.ID))); diff != "" {
		t.Fatalf("history (-want +got):\n%s", diff)
	}
}
