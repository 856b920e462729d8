// Package reviews keeps the ratings clients leave on completed contracts.
package reviews

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"talentlink/internal/domain"
	"talentlink/internal/engine/auth"
	"talentlink/internal/mail"
	"talentlink/internal/notify"
	"talentlink/internal/repo"
)

type Notifier interface {
	Notify(ctx context.Context, ev notify.Event) (domain.Notification, error)
}

type Ledger struct {
	DB       *sql.DB
	Repo     repo.Repo
	Notifier Notifier
	Logger   *slog.Logger
	Now      func() time.Time
}

func New(db *sql.DB, n Notifier, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{DB: db, Repo: repo.Repo{DB: db}, Notifier: n, Logger: logger, Now: time.Now}
}

type CreateOptions struct {
	ContractID string
	Rating     int
	Comments   string
}

// Create records the client's review of the freelancer on a completed contract.
// A reviewer gets one review per contract.
func (l *Ledger) Create(ctx context.Context, actor domain.Actor, opts CreateOptions) (domain.Review, error) {
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Review{}, err
	}
	defer tx.Rollback()

	c, err := l.Repo.GetContractTx(ctx, tx, opts.ContractID)
	if err != nil {
		return domain.Review{}, err
	}
	if err := auth.RequireUser(actor, c.ClientID, "review contract", "only the client can review the freelancer"); err != nil {
		return domain.Review{}, err
	}
	if c.Status != domain.ContractCompleted {
		return domain.Review{}, domain.InvalidStateError{Entity: "contract", ID: c.ID, Status: c.Status, Op: "review"}
	}
	if opts.Rating < 1 || opts.Rating > 5 {
		return domain.Review{}, domain.ValidationError{Field: "rating", Reason: "must be between 1 and 5"}
	}
	if _, err := l.Repo.GetReviewByReviewerTx(ctx, tx, c.ID, actor.ID); err == nil {
		return domain.Review{}, domain.ConflictError{Entity: "review", Detail: "contract already reviewed"}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Review{}, err
	}

	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	rv := domain.Review{
		ID:         uuid.NewString(),
		ContractID: c.ID,
		ReviewerID: actor.ID,
		RevieweeID: c.FreelancerID,
		Rating:     opts.Rating,
		Comments:   strings.TrimSpace(opts.Comments),
		CreatedAt:  now().UTC().Format(time.RFC3339),
	}
	if err := l.Repo.InsertReview(ctx, tx, rv); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.Review{}, domain.ConflictError{Entity: "review", Detail: "contract already reviewed"}
		}
		return domain.Review{}, fmt.Errorf("insert review: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Review{}, err
	}

	if l.Notifier != nil {
		name := actor.ID
		if u, err := l.Repo.GetUser(ctx, actor.ID); err == nil {
			name = u.Name()
		}
		_, err := l.Notifier.Notify(context.WithoutCancel(ctx), notify.Event{
			RecipientID: rv.RevieweeID,
			Type:        notify.TypeReviewReceived,
			Title:       "New review received",
			Message:     fmt.Sprintf("%s rated your work on %s %d/5", name, c.Title, rv.Rating),
			ContractID:  c.ID,
			Email:       mail.TemplateReviewReceived,
			EmailData:   mail.Data{ActorName: name, ContractTitle: c.Title, Rating: rv.Rating},
		})
		if err != nil {
			l.Logger.Warn("review notification not fully delivered", "review", rv.ID, "err", err)
		}
	}
	return rv, nil
}

type UpdateOptions struct {
	ID       string
	Rating   *int
	Comments *string
}

// Update lets the reviewer revise their own review.
func (l *Ledger) Update(ctx context.Context, actor domain.Actor, opts UpdateOptions) (domain.Review, error) {
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Review{}, err
	}
	defer tx.Rollback()

	rv, err := l.Repo.GetReviewTx(ctx, tx, opts.ID)
	if err != nil {
		return domain.Review{}, err
	}
	if err := auth.RequireUser(actor, rv.ReviewerID, "update review", "not the reviewer"); err != nil {
		return domain.Review{}, err
	}
	if opts.Rating != nil {
		if *opts.Rating < 1 || *opts.Rating > 5 {
			return domain.Review{}, domain.ValidationError{Field: "rating", Reason: "must be between 1 and 5"}
		}
		rv.Rating = *opts.Rating
	}
	if opts.Comments != nil {
		rv.Comments = strings.TrimSpace(*opts.Comments)
	}
	if err := l.Repo.UpdateReview(ctx, tx, rv); err != nil {
		return domain.Review{}, fmt.Errorf("update review: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Review{}, err
	}
	return rv, nil
}

func (l *Ledger) Delete(ctx context.Context, actor domain.Actor, id string) error {
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rv, err := l.Repo.GetReviewTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := auth.RequireUser(actor, rv.ReviewerID, "delete review", "not the reviewer"); err != nil {
		return err
	}
	if err := l.Repo.DeleteReview(ctx, tx, rv.ID); err != nil {
		return err
	}
	return tx.Commit()
}

// ForContract lists the reviews of a contract for either party.
func (l *Ledger) ForContract(ctx context.Context, actor domain.Actor, contractID string) ([]domain.Review, error) {
	c, err := l.Repo.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireParty(actor, c, "view contract reviews"); err != nil {
		return nil, err
	}
	return nonNil(l.Repo.ListReviewsForContract(ctx, c.ID))
}

// ForUser lists reviews written about userID, newest first.
func (l *Ledger) ForUser(ctx context.Context, userID string) ([]domain.Review, error) {
	if _, err := l.Repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return nonNil(l.Repo.ListReviewsAbout(ctx, userID))
}

func (l *Ledger) Stats(ctx context.Context, userID string) (domain.ReviewStats, error) {
	if _, err := l.Repo.GetUser(ctx, userID); err != nil {
		return domain.ReviewStats{}, err
	}
	counts, err := l.Repo.RatingCounts(ctx, userID)
	if err != nil {
		return domain.ReviewStats{}, err
	}
	stats := domain.ReviewStats{RatingDistribution: map[string]int{}}
	sum := 0
	for rating := 1; rating <= 5; rating++ {
		n := counts[rating]
		stats.RatingDistribution[strconv.Itoa(rating)] = n
		stats.TotalReviews += n
		sum += rating * n
	}
	if stats.TotalReviews > 0 {
		stats.AverageRating = math.Round(float64(sum)/float64(stats.TotalReviews)*100) / 100
	}
	return stats, nil
}

// Reviewable lists the actor's completed contracts as a client, each with whether a
// review can still be left.
func (l *Ledger) Reviewable(ctx context.Context, actor domain.Actor) ([]domain.ReviewableContract, error) {
	contracts, err := l.Repo.ListContracts(ctx, repo.ContractFilters{ClientID: actor.ID, Status: domain.ContractCompleted})
	if err != nil {
		return nil, err
	}
	res := make([]domain.ReviewableContract, 0, len(contracts))
	for _, c := range contracts {
		item := domain.ReviewableContract{
			ContractID:    c.ID,
			ContractTitle: c.Title,
			OtherPartyID:  c.FreelancerID,
			CanReview:     true,
		}
		if u, err := l.Repo.GetUser(ctx, c.FreelancerID); err == nil {
			item.OtherPartyName = u.Name()
		}
		existing, err := l.Repo.GetReviewByReviewerTx(ctx, nil, c.ID, actor.ID)
		switch {
		case err == nil:
			item.CanReview = false
			item.ExistingReview = &existing
		case !errors.Is(err, repo.ErrNotFound):
			return nil, err
		}
		res = append(res, item)
	}
	return res, nil
}

func nonNil(res []domain.Review, err error) ([]domain.Review, error) {
	if res == nil && err == nil {
		res = []domain.Review{}
	}
	return res, err
}
