package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"livecoach-server/pkg/coaching"
	"livecoach-server/pkg/errors"
)

// Repository persists call records and feedback reports in MySQL. All
// writes are idempotent upserts keyed by call identifier, so retried
// teardowns never duplicate rows.
type Repository struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewRepository opens the database and ensures the schema exists
func NewRepository(logger *logrus.Logger, dsn string) (*Repository, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	repo := &Repository{db: db, logger: logger}
	if err := repo.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Database repository ready")
	return repo, nil
}

func (r *Repository) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS calls (
			call_id     VARCHAR(64) PRIMARY KEY,
			stream_id   VARCHAR(64) NOT NULL,
			started_at  DATETIME(3) NOT NULL,
			ended_at    DATETIME(3) NULL,
			status      VARCHAR(32) NOT NULL,
			updated_at  DATETIME(3) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS feedback_reports (
			call_id           VARCHAR(64) PRIMARY KEY,
			generated_at      DATETIME(3) NOT NULL,
			duration_seconds  DOUBLE NOT NULL,
			tips_issued       INT NOT NULL,
			tips_used         INT NOT NULL,
			report            JSON NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to run schema migration")
		}
	}
	return nil
}

// UpsertCallRecord implements coaching.ReportStore
func (r *Repository) UpsertCallRecord(ctx context.Context, record *coaching.CallRecord) error {
	var endedAt interface{}
	if !record.EndedAt.IsZero() {
		endedAt = record.EndedAt
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO calls (call_id, stream_id, started_at, ended_at, status, updated_at)
		VALUES (?, ?, ?, ?, ?, NOW(3))
		ON DUPLICATE KEY UPDATE
			ended_at = VALUES(ended_at),
			status = VALUES(status),
			updated_at = NOW(3)`,
		record.CallID, record.StreamID, record.StartedAt, endedAt, record.Status,
	)
	if err != nil {
		return errors.Wrap(errors.ErrPersistenceFailed, err.Error()).WithField("call_id", record.CallID)
	}
	return nil
}

// UpsertFeedbackReport implements coaching.ReportStore
func (r *Repository) UpsertFeedbackReport(ctx context.Context, report *coaching.FeedbackReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return errors.Wrap(err, "failed to marshal feedback report")
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO feedback_reports (call_id, generated_at, duration_seconds, tips_issued, tips_used, report)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			generated_at = VALUES(generated_at),
			duration_seconds = VALUES(duration_seconds),
			tips_issued = VALUES(tips_issued),
			tips_used = VALUES(tips_used),
			report = VALUES(report)`,
		report.CallID, report.GeneratedAt, report.DurationS, report.TipsIssued, report.TipsUsed, body,
	)
	if err != nil {
		return errors.Wrap(errors.ErrPersistenceFailed, err.Error()).WithField("call_id", report.CallID)
	}
	return nil
}

// FeedbackReport loads a persisted report by call identifier
func (r *Repository) FeedbackReport(ctx context.Context, callID string) (*coaching.FeedbackReport, error) {
	var body []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT report FROM feedback_reports WHERE call_id = ?`, callID,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrPersistenceFailed, err.Error())
	}
	var report coaching.FeedbackReport
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, errors.Wrap(err, "failed to decode feedback report")
	}
	return &report, nil
}

// Close releases the connection pool
func (r *Repository) Close() error {
	return r.db.Close()
}
