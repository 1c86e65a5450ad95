package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/ShopPipe/internal/models"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// nilIfEmpty maps "" to SQL NULL.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func scanCart(row rowScanner) (*models.Cart, error) {
	var c models.Cart
	var itemsJSON, state string
	var address, jobID sql.NullString
	var lastInteraction sql.NullTime
	err := row.Scan(&c.UserID, &itemsJSON, &c.Total, &state, &address, &lastInteraction, &jobID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if itemsJSON != "" {
		if err := json.Unmarshal([]byte(itemsJSON), &c.Items); err != nil {
			return nil, fmt.Errorf("decode cart items failed: %w", err)
		}
	}
	c.State = models.State(state)
	c.Address = address.String
	c.InactivityJobID = jobID.String
	if lastInteraction.Valid {
		c.LastInteraction = lastInteraction.Time
	}
	return &c, nil
}

func scanProduct(row rowScanner) (*models.Product, error) {
	var p models.Product
	var code, imageURL sql.NullString
	err := row.Scan(&p.ID, &code, &p.Name, &p.Price, &p.Unit, &imageURL, &p.Active, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Code = code.String
	p.ImageURL = imageURL.String
	return &p, nil
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	var itemsJSON, status string
	var address sql.NullString
	err := row.Scan(&o.ID, &o.PhoneNumber, &itemsJSON, &o.Total, &address, &status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(itemsJSON), &o.Items); err != nil {
		return nil, fmt.Errorf("decode order items failed: %w", err)
	}
	o.Address = address.String
	o.Status = models.OrderStatus(status)
	return &o, nil
}

func scanJob(row rowScanner) (Job, error) {
	var j Job
	var payloadJSON, lastError, dedupeKey sql.NullString
	var lockedAt sql.NullTime
	err := row.Scan(
		&j.ID, &j.Kind, &j.RunAt, &payloadJSON, &j.Status, &j.Attempt, &j.MaxAttempts,
		&lastError, &lockedAt, &dedupeKey, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return j, err
	}
	j.PayloadJSON = payloadJSON.String
	j.LastError = lastError.String
	j.DedupeKey = dedupeKey.String
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.Time
	}
	return j, nil
}

func scanOutboxMessage(row rowScanner) (OutboxMessage, error) {
	var m OutboxMessage
	var payloadJSON, dedupeKey, lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := row.Scan(
		&m.ID, &m.RecipientID, &m.Kind, &payloadJSON, &m.Status, &m.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, err
	}
	m.PayloadJSON = payloadJSON.String
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	if nextAttemptAt.Valid {
		m.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		m.LockedAt = &lockedAt.Time
	}
	return m, nil
}
