package repo

import (
	"context"
	"database/sql"

	"talentlink/internal/domain"
)

const reviewColumns = `id,contract_id,reviewer_id,reviewee_id,rating,comments,created_at`

func scanReview(row interface{ Scan(...any) error }) (domain.Review, error) {
	var rv domain.Review
	err := row.Scan(&rv.ID, &rv.ContractID, &rv.ReviewerID, &rv.RevieweeID, &rv.Rating, &rv.Comments, &rv.CreatedAt)
	if err == sql.ErrNoRows {
		return rv, ErrNotFound
	}
	return rv, err
}

func (r Repo) InsertReview(ctx context.Context, tx *sql.Tx, rv domain.Review) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO reviews(`+reviewColumns+`) VALUES (?,?,?,?,?,?,?)`,
		rv.ID, rv.ContractID, rv.ReviewerID, rv.RevieweeID, rv.Rating, rv.Comments, rv.CreatedAt)
	return err
}

func (r Repo) GetReviewByReviewerTx(ctx context.Context, tx *sql.Tx, contractID, reviewerID string) (domain.Review, error) {
	return scanReview(r.on(tx).QueryRowContext(ctx,
		`SELECT `+reviewColumns+` FROM reviews WHERE contract_id=? AND reviewer_id=?`, contractID, reviewerID))
}

func (r Repo) listReviews(ctx context.Context, where string, arg any) ([]domain.Review, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE `+where+` ORDER BY created_at DESC, id`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Review
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rv)
	}
	return res, rows.Err()
}

func (r Repo) ListReviewsForContract(ctx context.Context, contractID string) ([]domain.Review, error) {
	return r.listReviews(ctx, `contract_id=?`, contractID)
}

// ListReviewsAbout returns reviews whose reviewee is userID, newest first.
func (r Repo) ListReviewsAbout(ctx context.Context, userID string) ([]domain.Review, error) {
	return r.listReviews(ctx, `reviewee_id=?`, userID)
}

// RatingCounts returns the number of reviews about userID per rating value.
func (r Repo) RatingCounts(ctx context.Context, userID string) (map[int]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT rating, COUNT(*) FROM reviews WHERE reviewee_id=? GROUP BY rating`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[int]int{}
	for rows.Next() {
		var rating, n int
		if err := rows.Scan(&rating, &n); err != nil {
			return nil, err
		}
		counts[rating] = n
	}
	return counts, rows.Err()
}

func (r Repo) GetReviewTx(ctx context.Context, tx *sql.Tx, id string) (domain.Review, error) {
	return scanReview(r.on(tx).QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id=?`, id))
}

// UpdateReview rewrites rating and comments.
func (r Repo) UpdateReview(ctx context.Context, tx *sql.Tx, rv domain.Review) error {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE reviews SET rating=?,comments=? WHERE id=?`, rv.Rating, rv.Comments, rv.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteReview(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.on(tx).ExecContext(ctx, `DELETE FROM reviews WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
