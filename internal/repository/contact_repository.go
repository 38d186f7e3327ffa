package repository

import (
    "context"
    "database/sql"
    "fmt"
    "strings"
    "time"

    "github.com/lib/pq"

    appErrors "github.com/unclebandit/dripmail-backend/internal/errors"
    "github.com/unclebandit/dripmail-backend/internal/model"
)

type ContactRepositoryInterface interface {
    Create(ctx context.Context, c *model.Contact) error
    GetByID(ctx context.Context, id int64) (*model.Contact, error)
    // GetByEmail returns nil, nil when no contact uses the address.
    GetByEmail(ctx context.Context, email string) (*model.Contact, error)
    List(ctx context.Context, filter model.ContactFilter) ([]*model.Contact, int, error)
    // CompareAndSet commits u only if the contact is still in expected status.
    // It reports false when another transition got there first.
    CompareAndSet(ctx context.Context, id int64, expected model.ContactStatus, u model.ContactUpdate) (bool, error)
    // SetIndustry fills an empty industry. It reports false when the contact
    // already has one.
    SetIndustry(ctx context.Context, id int64, industry string) (bool, error)
    Delete(ctx context.Context, id int64) error
    CountByStatus(ctx context.Context) (map[model.ContactStatus]int, error)
    CountStagesSent(ctx context.Context) (map[model.Stage]int, error)
}

type ContactRepository struct {
    DB *sql.DB
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)

const contactColumns = `id, name, email, company_name, company_url, industry, status, sentiment,
        last_email_sent, drip1_date, drip2_date, drip3_date, reply_date, stopped_at, created_at, updated_at`

type rowScanner interface {
    Scan(dest ...any) error
}

func scanContact(row rowScanner) (*model.Contact, error) {
    var c model.Contact
    var sentiment sql.NullString
    err := row.Scan(&c.ID, &c.Name, &c.Email, &c.CompanyName, &c.CompanyURL, &c.Industry, &c.Status, &sentiment,
        &c.LastEmailSent, &c.Drip1Date, &c.Drip2Date, &c.Drip3Date, &c.ReplyDate, &c.StoppedAt, &c.CreatedAt, &c.UpdatedAt)
    if err != nil {
        return nil, err
    }
    if sentiment.Valid {
        s := model.Sentiment(sentiment.String)
        c.Sentiment = &s
    }
    return &c, nil
}

func (r *ContactRepository) Create(ctx context.Context, c *model.Contact) error {
    if c.Status == "" {
        c.Status = model.StatusPending
    }
    if c.CreatedAt.IsZero() {
        c.CreatedAt = time.Now()
    }
    query := `
        INSERT INTO contacts (name, email, company_name, company_url, industry, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
        RETURNING id, updated_at
    `
    err := r.DB.QueryRowContext(ctx, query, c.Name, c.Email, c.CompanyName, c.CompanyURL, c.Industry, c.Status, c.CreatedAt).
        Scan(&c.ID, &c.UpdatedAt)
    if err != nil {
        return fmt.Errorf("create contact: %w", appErrors.FromStore(err))
    }
    return nil
}

func (r *ContactRepository) GetByID(ctx context.Context, id int64) (*model.Contact, error) {
    query := `SELECT ` + contactColumns + ` FROM contacts WHERE id=$1`
    c, err := scanContact(r.DB.QueryRowContext(ctx, query, id))
    if err != nil {
        if err == sql.ErrNoRows {
            return nil, appErrors.NewContactNotFound(id)
        }
        return nil, fmt.Errorf("get contact: %w", appErrors.FromStore(err))
    }
    return c, nil
}

func (r *ContactRepository) GetByEmail(ctx context.Context, email string) (*model.Contact, error) {
    query := `SELECT ` + contactColumns + ` FROM contacts WHERE LOWER(email)=LOWER($1)`
    c, err := scanContact(r.DB.QueryRowContext(ctx, query, strings.TrimSpace(email)))
    if err != nil {
        if err == sql.ErrNoRows {
            return nil, nil
        }
        return nil, fmt.Errorf("get contact by email: %w", appErrors.FromStore(err))
    }
    return c, nil
}

func (r *ContactRepository) List(ctx context.Context, filter model.ContactFilter) ([]*model.Contact, int, error) {
    where := ` WHERE 1=1`
    args := []interface{}{}
    argPos := 1

    if len(filter.Statuses) > 0 {
        statuses := make([]string, len(filter.Statuses))
        for i, s := range filter.Statuses {
            statuses[i] = string(s)
        }
        where += fmt.Sprintf(" AND status = ANY($%d)", argPos)
        args = append(args, pq.Array(statuses))
        argPos++
    }

    var total int
    if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts`+where, args...).Scan(&total); err != nil {
        return nil, 0, fmt.Errorf("count contacts: %w", appErrors.FromStore(err))
    }

    query := `SELECT ` + contactColumns + ` FROM contacts` + where + ` ORDER BY id`
    if filter.Limit > 0 {
        query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argPos, argPos+1)
        args = append(args, filter.Limit, filter.Offset)
    }

    rows, err := r.DB.QueryContext(ctx, query, args...)
    if err != nil {
        return nil, 0, fmt.Errorf("list contacts: %w", appErrors.FromStore(err))
    }
    defer rows.Close()

    contacts := []*model.Contact{}
    for rows.Next() {
        c, err := scanContact(rows)
        if err != nil {
            return nil, 0, fmt.Errorf("scan contact: %w", appErrors.FromStore(err))
        }
        contacts = append(contacts, c)
    }
    if err := rows.Err(); err != nil {
        return nil, 0, fmt.Errorf("list contacts: %w", appErrors.FromStore(err))
    }
    return contacts, total, nil
}

func (r *ContactRepository) CompareAndSet(ctx context.Context, id int64, expected model.ContactStatus, u model.ContactUpdate) (bool, error) {
    var sentiment interface{}
    if u.Sentiment != nil {
        sentiment = string(*u.Sentiment)
    }
    query := `
        UPDATE contacts SET
            status=$1,
            sentiment=COALESCE($2, sentiment),
            last_email_sent=COALESCE($3, last_email_sent),
            drip1_date=COALESCE(drip1_date, $4),
            drip2_date=COALESCE(drip2_date, $5),
            drip3_date=COALESCE(drip3_date, $6),
            reply_date=COALESCE(reply_date, $7),
            stopped_at=COALESCE(stopped_at, $8),
            updated_at=NOW()
        WHERE id=$9 AND status=$10
    `
    res, err := r.DB.ExecContext(ctx, query, u.Status, sentiment, u.LastEmailSent,
        u.Drip1Date, u.Drip2Date, u.Drip3Date, u.ReplyDate, u.StoppedAt, id, expected)
    if err != nil {
        return false, fmt.Errorf("commit contact %d: %w", id, appErrors.FromStore(err))
    }
    n, err := res.RowsAffected()
    if err != nil {
        return false, fmt.Errorf("commit contact %d: %w", id, appErrors.FromStore(err))
    }
    return n == 1, nil
}

func (r *ContactRepository) SetIndustry(ctx context.Context, id int64, industry string) (bool, error) {
    res, err := r.DB.ExecContext(ctx,
        `UPDATE contacts SET industry=$1, updated_at=NOW() WHERE id=$2 AND industry=''`, industry, id)
    if err != nil {
        return false, fmt.Errorf("set industry for contact %d: %w", id, appErrors.FromStore(err))
    }
    n, err := res.RowsAffected()
    if err != nil {
        return false, fmt.Errorf("set industry for contact %d: %w", id, appErrors.FromStore(err))
    }
    return n == 1, nil
}

// Delete removes the contact; its content record goes with it via ON DELETE CASCADE.
func (r *ContactRepository) Delete(ctx context.Context, id int64) error {
    res, err := r.DB.ExecContext(ctx, `DELETE FROM contacts WHERE id=$1`, id)
    if err != nil {
        return fmt.Errorf("delete contact: %w", appErrors.FromStore(err))
    }
    n, _ := res.RowsAffected()
    if n == 0 {
        return appErrors.NewContactNotFound(id)
    }
    return nil
}

func (r *ContactRepository) CountByStatus(ctx context.Context) (map[model.ContactStatus]int, error) {
    rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM contacts GROUP BY status`)
    if err != nil {
        return nil, fmt.Errorf("count by status: %w", appErrors.FromStore(err))
    }
    defer rows.Close()

    counts := make(map[model.ContactStatus]int, len(model.AllStatuses))
    for _, s := range model.AllStatuses {
        counts[s] = 0
    }
    for rows.Next() {
        var status string
        var count int
        if err := rows.Scan(&status, &count); err != nil {
            return nil, err
        }
        counts[model.ContactStatus(status)] = count
    }
    return counts, rows.Err()
}

func (r *ContactRepository) CountStagesSent(ctx context.Context) (map[model.Stage]int, error) {
    query := `
        SELECT COUNT(drip1_date), COUNT(drip2_date), COUNT(drip3_date)
        FROM contacts
    `
    var d1, d2, d3 int
    if err := r.DB.QueryRowContext(ctx, query).Scan(&d1, &d2, &d3); err != nil {
        return nil, fmt.Errorf("count stages: %w", appErrors.FromStore(err))
    }
    return map[model.Stage]int{
        model.StageDrip1: d1,
        model.StageDrip2: d2,
        model.StageDrip3: d3,
    }, nil
}
