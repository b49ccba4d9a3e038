package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avoronova/bookery/internal/domain/models"
	storerrors "github.com/avoronova/bookery/internal/storage/errors"
)

func newPublisher(t *testing.T, ms *MemStorage, name, email string) models.Publisher {
	t.Helper()
	pub, err := ms.SavePublisher(models.Publisher{Name: name, Email: email})
	require.NoError(t, err)
	return pub
}

// checkCounts asserts the stored book_count of every publisher matches the
// actual number of books referencing it.
func checkCounts(t *testing.T, ms *MemStorage) {
	t.Helper()
	pubs, err := ms.GetPublishers()
	require.NoError(t, err)
	books, err := ms.GetBooks()
	require.NoError(t, err)
	for _, pub := range pubs {
		actual := 0
		for _, b := range books {
			if b.PublisherID == pub.PID {
				actual++
			}
		}
		assert.Equal(t, actual, pub.BookCount, "publisher %s count out of sync", pub.Name)
	}
}

func TestBookCountFollowsBookMutations(t *testing.T) {
	ms := New()
	p := newPublisher(t, ms, "North Press", "north@press.io")
	q := newPublisher(t, ms, "South Press", "south@press.io")

	bookA, err := ms.SaveBook(models.Book{Title: "A", PublisherID: p.PID})
	require.NoError(t, err)
	got, _ := ms.GetPublisher(p.PID)
	assert.Equal(t, 1, got.BookCount)

	bookB, err := ms.SaveBook(models.Book{Title: "B", PublisherID: p.PID})
	require.NoError(t, err)
	got, _ = ms.GetPublisher(p.PID)
	assert.Equal(t, 2, got.BookCount)

	require.NoError(t, ms.DeleteBook(bookA.BID))
	got, _ = ms.GetPublisher(p.PID)
	assert.Equal(t, 1, got.BookCount)

	_, err = ms.UpdateBook(bookB.BID, "B", q.PID)
	require.NoError(t, err)
	got, _ = ms.GetPublisher(p.PID)
	assert.Equal(t, 0, got.BookCount)
	got, _ = ms.GetPublisher(q.PID)
	assert.Equal(t, 1, got.BookCount)

	checkCounts(t, ms)
}

func TestSaveBookUnknownPublisher(t *testing.T) {
	ms := New()
	p := newPublisher(t, ms, "North Press", "north@press.io")

	_, err := ms.SaveBook(models.Book{Title: "A", PublisherID: "no-such-publisher"})
	assert.ErrorIs(t, err, storerrors.ErrPublisherNotFound)

	books, err := ms.GetBooks()
	require.NoError(t, err)
	assert.Empty(t, books, "failed create must not leave a book behind")
	got, _ := ms.GetPublisher(p.PID)
	assert.Equal(t, 0, got.BookCount)
}

func TestUpdateBookUnknownPublisherLeavesCountsAlone(t *testing.T) {
	ms := New()
	p := newPublisher(t, ms, "North Press", "north@press.io")
	book, err := ms.SaveBook(models.Book{Title: "A", PublisherID: p.PID})
	require.NoError(t, err)

	_, err = ms.UpdateBook(book.BID, "A2", "no-such-publisher")
	assert.ErrorIs(t, err, storerrors.ErrPublisherNotFound)

	got, _ := ms.GetPublisher(p.PID)
	assert.Equal(t, 1, got.BookCount)
	kept, _ := ms.GetBook(book.BID)
	assert.Equal(t, "A", kept.Title, "failed update must not change the book")
}

func TestUpdateBookSamePublisherKeepsCount(t *testing.T) {
	ms := New()
	p := newPublisher(t, ms, "North Press", "north@press.io")
	book, err := ms.SaveBook(models.Book{Title: "A", PublisherID: p.PID})
	require.NoError(t, err)

	updated, err := ms.UpdateBook(book.BID, "A second edition", p.PID)
	require.NoError(t, err)
	assert.Equal(t, "A second edition", updated.Title)
	got, _ := ms.GetPublisher(p.PID)
	assert.Equal(t, 1, got.BookCount)
}

func TestUpdateBookNotFound(t *testing.T) {
	ms := New()
	_, err := ms.UpdateBook("no-such-book", "T", "whatever")
	assert.ErrorIs(t, err, storerrors.ErrBookNotFound)
}

func TestDeleteBookCascades(t *testing.T) {
	ms := New()
	p := newPublisher(t, ms, "North Press", "north@press.io")
	book, err := ms.SaveBook(models.Book{Title: "A", PublisherID: p.PID})
	require.NoError(t, err)
	_, err = ms.SaveAuthor(models.Author{Name: "Someone", BookID: book.BID})
	require.NoError(t, err)
	user, err := ms.SaveUser(models.User{Username: "alice", Pass: "x", Role: models.RoleCustomer})
	require.NoError(t, err)
	_, err = ms.SaveReview(models.Review{BookID: book.BID, UserID: user.UID, Rating: 4})
	require.NoError(t, err)

	require.NoError(t, ms.DeleteBook(book.BID))

	authors, _ := ms.GetAuthors()
	assert.Empty(t, authors)
	reviews, _ := ms.GetReviews("")
	assert.Empty(t, reviews)
	got, _ := ms.GetPublisher(p.PID)
	assert.Equal(t, 0, got.BookCount)

	assert.ErrorIs(t, ms.DeleteBook(book.BID), storerrors.ErrBookNotFound)
}

func TestDeletePublisherCascades(t *testing.T) {
	ms := New()
	p := newPublisher(t, ms, "North Press", "north@press.io")
	q := newPublisher(t, ms, "South Press", "south@press.io")
	bookP, err := ms.SaveBook(models.Book{Title: "A", PublisherID: p.PID})
	require.NoError(t, err)
	bookQ, err := ms.SaveBook(models.Book{Title: "B", PublisherID: q.PID})
	require.NoError(t, err)
	_, err = ms.SaveAuthor(models.Author{Name: "Someone", BookID: bookP.BID})
	require.NoError(t, err)
	user, err := ms.SaveUser(models.User{Username: "alice", Pass: "x", Role: models.RoleCustomer})
	require.NoError(t, err)
	_, err = ms.SaveReview(models.Review{BookID: bookP.BID, UserID: user.UID, Rating: 5})
	require.NoError(t, err)

	require.NoError(t, ms.DeletePublisher(p.PID))

	_, err = ms.GetPublisher(p.PID)
	assert.ErrorIs(t, err, storerrors.ErrPublisherNotFound)
	_, err = ms.GetBook(bookP.BID)
	assert.ErrorIs(t, err, storerrors.ErrBookNotFound)
	authors, _ := ms.GetAuthors()
	assert.Empty(t, authors)
	reviews, _ := ms.GetReviews("")
	assert.Empty(t, reviews)

	// The other publisher's tree survives.
	_, err = ms.GetBook(bookQ.BID)
	assert.NoError(t, err)
	checkCounts(t, ms)
}

func TestPublisherUniqueness(t *testing.T) {
	ms := New()
	newPublisher(t, ms, "North Press", "north@press.io")

	_, err := ms.SavePublisher(models.Publisher{Name: "North Press", Email: "other@press.io"})
	assert.ErrorIs(t, err, storerrors.ErrPublisherNameTaken)
	_, err = ms.SavePublisher(models.Publisher{Name: "Other Press", Email: "north@press.io"})
	assert.ErrorIs(t, err, storerrors.ErrPublisherEmailTaken)
}

func TestSaveAuthorUnknownBook(t *testing.T) {
	ms := New()
	_, err := ms.SaveAuthor(models.Author{Name: "Someone", BookID: "no-such-book"})
	assert.ErrorIs(t, err, storerrors.ErrBookNotFound)
}

func TestSaveReviewValidation(t *testing.T) {
	ms := New()
	p := newPublisher(t, ms, "North Press", "north@press.io")
	book, err := ms.SaveBook(models.Book{Title: "A", PublisherID: p.PID})
	require.NoError(t, err)
	user, err := ms.SaveUser(models.User{Username: "alice", Pass: "x", Role: models.RoleCustomer})
	require.NoError(t, err)

	_, err = ms.SaveReview(models.Review{BookID: book.BID, UserID: user.UID, Rating: 0})
	assert.ErrorIs(t, err, storerrors.ErrInvalidRating)
	_, err = ms.SaveReview(models.Review{BookID: book.BID, UserID: user.UID, Rating: 6})
	assert.ErrorIs(t, err, storerrors.ErrInvalidRating)
	_, err = ms.SaveReview(models.Review{BookID: "no-such-book", UserID: user.UID, Rating: 3})
	assert.ErrorIs(t, err, storerrors.ErrBookNotFound)

	saved, err := ms.SaveReview(models.Review{BookID: book.BID, UserID: user.UID, Rating: 3})
	require.NoError(t, err)
	assert.False(t, saved.CreatedAt.IsZero(), "created_at is stamped on insert")
}

func TestReviewOwnership(t *testing.T) {
	ms := New()
	p := newPublisher(t, ms, "North Press", "north@press.io")
	book, err := ms.SaveBook(models.Book{Title: "A", PublisherID: p.PID})
	require.NoError(t, err)
	owner, err := ms.SaveUser(models.User{Username: "alice", Pass: "x", Role: models.RoleCustomer})
	require.NoError(t, err)
	stranger, err := ms.SaveUser(models.User{Username: "bob", Pass: "x", Role: models.RoleCustomer})
	require.NoError(t, err)
	admin, err := ms.SaveUser(models.User{Username: "root", Pass: "x", Role: models.RoleAdmin})
	require.NoError(t, err)

	review, err := ms.SaveReview(models.Review{BookID: book.BID, UserID: owner.UID, Rating: 3})
	require.NoError(t, err)

	rating := 5
	_, err = ms.UpdateReview(review.RID, models.ReviewPatch{Rating: &rating}, stranger)
	assert.ErrorIs(t, err, storerrors.ErrNotReviewOwner)
	assert.ErrorIs(t, ms.DeleteReview(review.RID, stranger), storerrors.ErrNotReviewOwner)

	updated, err := ms.UpdateReview(review.RID, models.ReviewPatch{Rating: &rating}, owner)
	require.NoError(t, err)
	assert.Equal(t, 5, updated.Rating)

	require.NoError(t, ms.DeleteReview(review.RID, admin))
	_, err = ms.UpdateReview(review.RID, models.ReviewPatch{}, owner)
	assert.ErrorIs(t, err, storerrors.ErrReviewNotFound)
}

func TestUpdateReviewPartialPatch(t *testing.T) {
	ms := New()
	p := newPublisher(t, ms, "North Press", "north@press.io")
	book, err := ms.SaveBook(models.Book{Title: "A", PublisherID: p.PID})
	require.NoError(t, err)
	owner, err := ms.SaveUser(models.User{Username: "alice", Pass: "x", Role: models.RoleCustomer})
	require.NoError(t, err)
	review, err := ms.SaveReview(models.Review{BookID: book.BID, UserID: owner.UID, Rating: 3, Text: "fine"})
	require.NoError(t, err)

	text := "actually great"
	updated, err := ms.UpdateReview(review.RID, models.ReviewPatch{Text: &text}, owner)
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Rating, "absent rating stays put")
	assert.Equal(t, "actually great", updated.Text)

	bad := 9
	_, err = ms.UpdateReview(review.RID, models.ReviewPatch{Rating: &bad}, owner)
	assert.ErrorIs(t, err, storerrors.ErrInvalidRating)
}
