package storerrors

import "errors"

var (
	ErrUserExists   = errors.New("user already exists")
	ErrUserNotFound = errors.New("user not found")

	ErrPublisherNotFound   = errors.New("publisher not found")
	ErrPublisherNameTaken  = errors.New("publisher name already exists")
	ErrPublisherEmailTaken = errors.New("publisher email already exists")

	ErrBookNotFound   = errors.New("book not found")
	ErrAuthorNotFound = errors.New("author not found")

	ErrReviewNotFound = errors.New("review not found")
	ErrNotReviewOwner = errors.New("not allowed to modify this review")
	ErrInvalidRating  = errors.New("rating must be between 1 and 5")
)
