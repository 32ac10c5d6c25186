package store

import (
	"database/sql"
	"fmt"

	"github.com/11996262609/CrossFit-ChatBot/internal/models"
)

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// userColumns is the column list read by scanUser.
const userColumns = `address, display_name, last_attachment_at, last_reminder_at, created_at, updated_at`

// scanUser scans a models.UserRecord selected with userColumns.
func scanUser(row rowScanner) (*models.UserRecord, error) {
	var (
		u                    models.UserRecord
		addr                 string
		attachment, reminder sql.NullInt64
		createdAt, updatedAt int64
	)
	if err := row.Scan(&addr, &u.DisplayName, &attachment, &reminder, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	u.Address = models.Address(addr)
	if attachment.Valid {
		u.LastAttachmentAt = timePtr(fromMillis(attachment.Int64))
	}
	if reminder.Valid {
		u.LastReminderAt = timePtr(fromMillis(reminder.Int64))
	}
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return &u, nil
}

// collectUsers drains rows into a slice.
func collectUsers(rows *sql.Rows) ([]models.UserRecord, error) {
	defer rows.Close()
	var users []models.UserRecord
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact row: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contact rows: %w", err)
	}
	return users, nil
}

// affectedOne reports whether a statement changed exactly one row.
func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}
