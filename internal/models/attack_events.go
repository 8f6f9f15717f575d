package models

import (
	"net"
	"time"
)

// AttackEvent is the row shape shared by the remote sinks. Password holds
// plaintext unless PasswordEncrypted is set, in which case the ciphertext
// is in EncryptedPassword and the wrapped data key in PasswordDEK.
type AttackEvent struct {
	EventBucket       int       `db:"event_bucket" json:"event_bucket"`
	EventDate         string    `db:"event_date" json:"event_date"`
	EventTime         time.Time `db:"event_time" json:"event_time"`
	EventID           string    `db:"event_id" json:"event_id"`
	IPAddress         net.IP    `db:"ip_address" json:"ip_address,omitempty"`
	SourceAddress     string    `db:"source_address" json:"source_address"`
	Username          string    `db:"username" json:"username"`
	Password          string    `db:"password" json:"password,omitempty"`
	PasswordEncrypted bool      `db:"password_encrypted" json:"password_encrypted"`
	EncryptedPassword []byte    `db:"encrypted_password" json:"encrypted_password,omitempty"`
	PasswordDEK       []byte    `db:"password_dek" json:"password_dek,omitempty"`
	PasswordKeyID     string    `db:"password_key_id" json:"password_key_id,omitempty"`
	Region            string    `db:"region" json:"region"`
	ThreatLevel       int       `db:"threat_level" json:"threat_level"`
}
