package models

import "time"

// Role is a closed set: routes declare the exact roles they accept, there is
// no implied hierarchy between them.
type Role string

const (
	RoleAdmin     Role = "admin"
	RolePublisher Role = "publisher"
	RoleCustomer  Role = "customer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RolePublisher, RoleCustomer:
		return true
	}
	return false
}

type User struct {
	UID      string `json:"uid,omitempty"`
	Username string `json:"username" validate:"required,min=3"`
	Pass     string `json:"-"`
	Role     Role   `json:"role"`
}

type Publisher struct {
	PID         string `json:"pid,omitempty"`
	Name        string `json:"name" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Website     string `json:"website,omitempty"`
	BookCount   int    `json:"book_count"`
}

type Book struct {
	BID         string `json:"bid,omitempty"`
	Title       string `json:"title" validate:"required"`
	PublisherID string `json:"publisher_id" validate:"required"`
}

type Author struct {
	AID       string     `json:"aid,omitempty"`
	Name      string     `json:"name" validate:"required"`
	Biography string     `json:"biography,omitempty"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
	BookID    string     `json:"book_id" validate:"required"`
}

type Review struct {
	RID       string    `json:"rid,omitempty"`
	BookID    string    `json:"book_id" validate:"required"`
	UserID    string    `json:"user_id,omitempty"`
	Rating    int       `json:"rating" validate:"required,gte=1,lte=5"`
	Text      string    `json:"text,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ReviewPatch carries a partial review update. A nil field is left untouched;
// an explicit JSON null decodes to nil as well and is not told apart.
type ReviewPatch struct {
	Rating *int    `json:"rating"`
	Text   *string `json:"text"`
}
