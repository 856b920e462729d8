// Package testutil builds throwaway migrated databases for package tests.
package testutil

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"talentlink/internal/db"
	"talentlink/internal/domain"
	"talentlink/internal/migrate"
	"talentlink/internal/repo"
)

// Now is the fixed clock tests share.
var Now = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func Clock() time.Time { return Now }

// OpenDB opens a migrated SQLite database in a temp workspace.
func OpenDB(t testing.TB) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

// User inserts a user with the given role. An empty email leaves the user without one.
func User(t testing.TB, r repo.Repo, username, role, email string) domain.User {
	t.Helper()
	u := domain.User{
		ID:          uuid.NewString(),
		Username:    username,
		Email:       email,
		DisplayName: username,
		Role:        role,
		CreatedAt:   Now.Format(time.RFC3339),
	}
	if err := r.InsertUser(context.Background(), nil, u); err != nil {
		t.Fatalf("insert user %s: %v", username, err)
	}
	return u
}

// Eventually polls cond until it holds or the deadline passes.
func Eventually(t testing.TB, within time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", within)
}

// Contract inserts a project, an accepted proposal and a contract between client and
// freelancer in the given status, bypassing the engine.
func Contract(t testing.TB, r repo.Repo, client, freelancer domain.User, title, status string) domain.Contract {
	t.Helper()
	ctx := context.Background()
	ts := Now.Format(time.RFC3339)
	project := domain.Project{
		ID: uuid.NewString(), ClientID: client.ID, Title: title, BudgetCents: 50000,
		Status: domain.ProjectInProgress, CreatedAt: ts, UpdatedAt: ts,
	}
	if err := r.InsertProject(ctx, nil, project); err != nil {
		t.Fatalf("insert project: %v", err)
	}
	proposal := domain.Proposal{
		ID: uuid.NewString(), ProjectID: project.ID, FreelancerID: freelancer.ID, BidCents: 45000,
		Status: domain.ProposalAccepted, CreatedAt: ts, UpdatedAt: ts,
	}
	if err := r.InsertProposal(ctx, nil, proposal); err != nil {
		t.Fatalf("insert proposal: %v", err)
	}
	c := domain.Contract{
		ID: uuid.NewString(), ProposalID: proposal.ID, ProjectID: project.ID,
		ClientID: client.ID, FreelancerID: freelancer.ID, Title: title,
		AgreedCents: proposal.BidCents, StartDate: Now.Format("2006-01-02"),
		PaymentMethod: "fixed", Status: status, CreatedAt: ts, UpdatedAt: ts,
	}
	if err := r.InsertContract(ctx, nil, c); err != nil {
		t.Fatalf("insert contract: %v", err)
	}
	c.MilestonesJSON = "[]"
	return c
}
