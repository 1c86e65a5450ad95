package store

import (
	"database/sql"
	"fmt"
	"time"
)

// DedupRepo records inbound message IDs so transport redeliveries are
// handled only once.
type DedupRepo interface {
	// IsDuplicate reports whether messageID was already recorded.
	IsDuplicate(messageID string) (bool, error)

	// RecordInbound stores messageID and reports false if it was already present.
	RecordInbound(messageID, senderID string) (bool, error)

	MarkProcessed(messageID string) error
}

func (s *sqlDB) IsDuplicate(messageID string) (bool, error) {
	var id string
	err := s.queryRow(`SELECT message_id FROM inbound_dedup WHERE message_id = ?`, messageID).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return true, nil
}

func (s *sqlDB) RecordInbound(messageID, senderID string) (bool, error) {
	res, err := s.exec(
		`INSERT INTO inbound_dedup (message_id, sender_id, received_at) VALUES (?, ?, ?)
		 ON CONFLICT (message_id) DO NOTHING`,
		messageID, senderID, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record inbound rows affected failed: %w", err)
	}
	return n == 1, nil
}

func (s *sqlDB) MarkProcessed(messageID string) error {
	if _, err := s.exec(`UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`, time.Now().UTC(), messageID); err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}
