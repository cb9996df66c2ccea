package model

import "time"

// Session is a server-side session row. EncryptedMaterial holds the ciphertext of the bearer
// token currently issued for it; it is never serialized.
type Session struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	EncryptedMaterial string    `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Age is the inactivity of the session measured from its last refresh.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.UpdatedAt)
}
