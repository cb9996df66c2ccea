package model

import "time"

// User types, as stored in users.user_type_id.
const (
	UserTypeEmployee      = 1
	UserTypeInstitute     = 2
	UserTypeAdministrator = 3
)

// ValidUserType reports whether t is one of the known user types.
func ValidUserType(t int) bool {
	return t >= UserTypeEmployee && t <= UserTypeAdministrator
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Mobile       string    `json:"mobile"`
	UserTypeID   int       `json:"user_type_id"`
	PasswordHash string    `json:"-"`
	Disabled     bool      `json:"disabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type UserPublic struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Mobile     string `json:"mobile"`
	UserTypeID int    `json:"user_type_id"`
	Disabled   bool   `json:"disabled"`
}

func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		Mobile:     u.Mobile,
		UserTypeID: u.UserTypeID,
		Disabled:   u.Disabled,
	}
}

// Principal is the slice of a user the authentication core needs.
type Principal struct {
	ID         string `json:"id"`
	UserTypeID int    `json:"user_type_id"`
	Disabled   bool   `json:"disabled"`
}

func (u *User) Principal() Principal {
	return Principal{ID: u.ID, UserTypeID: u.UserTypeID, Disabled: u.Disabled}
}
