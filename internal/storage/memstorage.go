package storage

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avoronova/bookery/internal/domain/models"
	"github.com/avoronova/bookery/internal/logger"
	storerrors "github.com/avoronova/bookery/internal/storage/errors"
)

// MemStorage keeps the whole catalog in maps guarded by one mutex, so every
// operation is atomic the same way a database transaction is. It backs the
// tests and the no-database fallback in main.
type MemStorage struct {
	mu         sync.Mutex
	users      map[string]models.User
	publishers map[string]models.Publisher
	books      map[string]models.Book
	authors    map[string]models.Author
	reviews    map[string]models.Review
}

func New() *MemStorage {
	return &MemStorage{
		users:      make(map[string]models.User),
		publishers: make(map[string]models.Publisher),
		books:      make(map[string]models.Book),
		authors:    make(map[string]models.Author),
		reviews:    make(map[string]models.Review),
	}
}

func (ms *MemStorage) SaveUser(user models.User) (models.User, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, u := range ms.users {
		if u.Username == user.Username {
			return models.User{}, storerrors.ErrUserExists
		}
	}
	user.UID = uuid.New().String()
	ms.users[user.UID] = user
	return user, nil
}

func (ms *MemStorage) UserByUsername(username string) (models.User, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, u := range ms.users {
		if u.Username == username {
			return u, nil
		}
	}
	return models.User{}, storerrors.ErrUserNotFound
}

func (ms *MemStorage) GetUser(uid string) (models.User, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	user, ok := ms.users[uid]
	if !ok {
		return models.User{}, storerrors.ErrUserNotFound
	}
	return user, nil
}

func (ms *MemStorage) SavePublisher(pub models.Publisher) (models.Publisher, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, p := range ms.publishers {
		if p.Name == pub.Name {
			return models.Publisher{}, storerrors.ErrPublisherNameTaken
		}
		if p.Email == pub.Email {
			return models.Publisher{}, storerrors.ErrPublisherEmailTaken
		}
	}
	pub.PID = uuid.New().String()
	pub.BookCount = 0
	ms.publishers[pub.PID] = pub
	return pub, nil
}

func (ms *MemStorage) GetPublisher(pid string) (models.Publisher, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	pub, ok := ms.publishers[pid]
	if !ok {
		return models.Publisher{}, storerrors.ErrPublisherNotFound
	}
	return pub, nil
}

func (ms *MemStorage) GetPublishers() ([]models.Publisher, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	pubs := make([]models.Publisher, 0, len(ms.publishers))
	for _, p := range ms.publishers {
		pubs = append(pubs, p)
	}
	return pubs, nil
}

// DeletePublisher removes the publisher and everything under it: reviews and
// authors of its books first, then the books, then the publisher itself.
func (ms *MemStorage) DeletePublisher(pid string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	log := logger.Get()
	if _, ok := ms.publishers[pid]; !ok {
		return storerrors.ErrPublisherNotFound
	}
	for bid, book := range ms.books {
		if book.PublisherID != pid {
			continue
		}
		ms.deleteBookChildren(bid)
		delete(ms.books, bid)
	}
	delete(ms.publishers, pid)
	log.Debug().Str("pid", pid).Msg("publisher deleted with cascade")
	return nil
}

func (ms *MemStorage) SaveBook(book models.Book) (models.Book, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, ok := ms.publishers[book.PublisherID]; !ok {
		return models.Book{}, storerrors.ErrPublisherNotFound
	}
	book.BID = uuid.New().String()
	ms.books[book.BID] = book
	ms.adjustBookCount(book.PublisherID, 1)
	return book, nil
}

func (ms *MemStorage) GetBook(bid string) (models.Book, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	book, ok := ms.books[bid]
	if !ok {
		return models.Book{}, storerrors.ErrBookNotFound
	}
	return book, nil
}

func (ms *MemStorage) GetBooks() ([]models.Book, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	books := make([]models.Book, 0, len(ms.books))
	for _, b := range ms.books {
		books = append(books, b)
	}
	return books, nil
}

func (ms *MemStorage) UpdateBook(bid, title, publisherID string) (models.Book, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	book, ok := ms.books[bid]
	if !ok {
		return models.Book{}, storerrors.ErrBookNotFound
	}
	if publisherID != book.PublisherID {
		if _, ok := ms.publishers[publisherID]; !ok {
			return models.Book{}, storerrors.ErrPublisherNotFound
		}
		ms.adjustBookCount(book.PublisherID, -1)
		ms.adjustBookCount(publisherID, 1)
		book.PublisherID = publisherID
	}
	book.Title = title
	ms.books[bid] = book
	return book, nil
}

func (ms *MemStorage) DeleteBook(bid string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	book, ok := ms.books[bid]
	if !ok {
		return storerrors.ErrBookNotFound
	}
	ms.adjustBookCount(book.PublisherID, -1)
	ms.deleteBookChildren(bid)
	delete(ms.books, bid)
	return nil
}

func (ms *MemStorage) SaveAuthor(author models.Author) (models.Author, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, ok := ms.books[author.BookID]; !ok {
		return models.Author{}, storerrors.ErrBookNotFound
	}
	author.AID = uuid.New().String()
	ms.authors[author.AID] = author
	return author, nil
}

func (ms *MemStorage) GetAuthors() ([]models.Author, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	authors := make([]models.Author, 0, len(ms.authors))
	for _, a := range ms.authors {
		authors = append(authors, a)
	}
	return authors, nil
}

func (ms *MemStorage) SaveReview(review models.Review) (models.Review, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if review.Rating < 1 || review.Rating > 5 {
		return models.Review{}, storerrors.ErrInvalidRating
	}
	if _, ok := ms.books[review.BookID]; !ok {
		return models.Review{}, storerrors.ErrBookNotFound
	}
	review.RID = uuid.New().String()
	review.CreatedAt = time.Now().UTC()
	ms.reviews[review.RID] = review
	return review, nil
}

func (ms *MemStorage) GetReviews(bookID string) ([]models.Review, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	reviews := make([]models.Review, 0, len(ms.reviews))
	for _, r := range ms.reviews {
		if bookID == "" || r.BookID == bookID {
			reviews = append(reviews, r)
		}
	}
	return reviews, nil
}

// UpdateReview applies only the fields set in patch. Only the review's owner
// or an admin may touch it.
func (ms *MemStorage) UpdateReview(rid string, patch models.ReviewPatch, actor models.User) (models.Review, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	review, ok := ms.reviews[rid]
	if !ok {
		return models.Review{}, storerrors.ErrReviewNotFound
	}
	if review.UserID != actor.UID && actor.Role != models.RoleAdmin {
		return models.Review{}, storerrors.ErrNotReviewOwner
	}
	if patch.Rating != nil {
		if *patch.Rating < 1 || *patch.Rating > 5 {
			return models.Review{}, storerrors.ErrInvalidRating
		}
		review.Rating = *patch.Rating
	}
	if patch.Text != nil {
		review.Text = *patch.Text
	}
	ms.reviews[rid] = review
	return review, nil
}

func (ms *MemStorage) DeleteReview(rid string, actor models.User) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	review, ok := ms.reviews[rid]
	if !ok {
		return storerrors.ErrReviewNotFound
	}
	if review.UserID != actor.UID && actor.Role != models.RoleAdmin {
		return storerrors.ErrNotReviewOwner
	}
	delete(ms.reviews, rid)
	return nil
}

// adjustBookCount is the one place book_count changes. Callers hold the lock.
func (ms *MemStorage) adjustBookCount(pid string, delta int) {
	pub, ok := ms.publishers[pid]
	if !ok {
		return
	}
	pub.BookCount += delta
	if pub.BookCount < 0 {
		pub.BookCount = 0
	}
	ms.publishers[pid] = pub
}

func (ms *MemStorage) deleteBookChildren(bid string) {
	for rid, r := range ms.reviews {
		if r.BookID == bid {
			delete(ms.reviews, rid)
		}
	}
	for aid, a := range ms.authors {
		if a.BookID == bid {
			delete(ms.authors, aid)
		}
	}
}
