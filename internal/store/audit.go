package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sageinvest/kis-engine/internal/kiserr"
	"github.com/sageinvest/kis-engine/internal/logger"
)

const (
	_insertLogRequest = `INSERT INTO kis_api_logs (request_id, endpoint, method, request_headers, request_body)
					VALUES ($1, $2, $3, $4, $5)`
	_updateLogResponse = `UPDATE kis_api_logs
					SET response_status = $1, response_body = $2, error_message = $3
					WHERE request_id = $4`
	_queryRecentLogs = `SELECT id, request_id, endpoint, method, response_status, error_message, created_at
					FROM kis_api_logs
					ORDER BY created_at DESC
					LIMIT $1`
)

type RequestLog struct {
	RequestID string
	Endpoint  string
	Method    string
	Headers   string
	Body      string
}

type ResponseLog struct {
	RequestID    string
	Status       int
	Body         string
	ErrorMessage string
}

type LogEntry struct {
	ID             int64     `db:"id" json:"id"`
	RequestID      string    `db:"request_id" json:"requestId"`
	Endpoint       string    `db:"endpoint" json:"endpoint"`
	Method         string    `db:"method" json:"method"`
	ResponseStatus *int      `db:"response_status" json:"responseStatus"`
	ErrorMessage   *string   `db:"error_message" json:"errorMessage"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// AuditRepo records request/response pairs for outbound broker calls.
// Writes are best-effort: failures are logged and swallowed so an audit
// problem can never abort an API call.
type AuditRepo struct {
	db     *sqlx.DB
	logger logger.Logger
}

func NewAuditRepo(db *sqlx.DB, logger logger.Logger) *AuditRepo {
	return &AuditRepo{db: db, logger: logger}
}

func (r *AuditRepo) LogRequest(ctx context.Context, log RequestLog) {
	if _, err := r.db.ExecContext(ctx, _insertLogRequest,
		log.RequestID, log.Endpoint, log.Method, log.Headers, log.Body,
	); err != nil {
		r.logger.Warnf("%s: can't write api request log %s", err, log.RequestID)
	}
}

func (r *AuditRepo) LogResponse(ctx context.Context, log ResponseLog) {
	var errMsg any
	if log.ErrorMessage != "" {
		errMsg = log.ErrorMessage
	}
	if _, err := r.db.ExecContext(ctx, _updateLogResponse,
		log.Status, log.Body, errMsg, log.RequestID,
	); err != nil {
		r.logger.Warnf("%s: can't write api response log %s", err, log.RequestID)
	}
}

// RecentLogs returns the latest entries for the status surface.
func (r *AuditRepo) RecentLogs(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []LogEntry
	if err := r.db.SelectContext(ctx, &entries, _queryRecentLogs, limit); err != nil {
		return nil, fmt.Errorf("%w: can't query api logs: %s", kiserr.ErrPersistence, err)
	}
	return entries, nil
}
