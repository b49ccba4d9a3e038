package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avoronova/bookery/internal/domain/consts"
	"github.com/avoronova/bookery/internal/domain/models"
	"github.com/avoronova/bookery/internal/logger"
	storerrors "github.com/avoronova/bookery/internal/storage/errors"
)

type DBStorage struct {
	pool *pgxpool.Pool
}

func NewDB(ctx context.Context, addr string) (*DBStorage, error) {
	config, err := pgxpool.ParseConfig(addr)
	if err != nil {
		return nil, err
	}
	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	return &DBStorage{pool: pool}, nil
}

func (dbs *DBStorage) SaveUser(user models.User) (models.User, error) {
	log := logger.Get()
	ctx, cancel := context.WithTimeout(context.Background(), consts.DBCtxTimeout)
	defer cancel()

	user.UID = uuid.New().String()
	_, err := dbs.pool.Exec(ctx,
		`INSERT INTO users (uid, username, pass, role) VALUES ($1, $2, $3, $4)`,
		user.UID, user.Username, user.Pass, user.Role)
	if err != nil {
		if isUniqueViolation(err, "users_username_key") {
			return models.User{}, storerrors.ErrUserExists
		}
		log.Error().Err(err).Msg("failed to insert user")
		return models.User{}, err
	}
	return user, nil
}

func (dbs *DBStorage) UserByUsername(username string) (models.User, error) {
	ctx, cancel := context.WithTimeout(context.Background(), consts.DBCtxTimeout)
	defer cancel()
	var usr models.User
	row := dbs.pool.QueryRow(ctx, `SELECT uid, username, pass, role FROM users WHERE username = $1`, username)
	if err := row.Scan(&usr.UID, &usr.Username, &usr.Pass, &usr.Role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, storerrors.ErrUserNotFound
		}
		return models.User{}, err
	}
	return usr, nil
}

func (dbs *DBStorage) GetUser(uid string) (models.User, error) {
	ctx, cancel := context.WithTimeout(context.Background(), consts.DBCtxTimeout)
	defer cancel()
	var usr models.User
	row := dbs.pool.QueryRow(ctx, `SELECT uid, username, pass, role FROM users WHERE uid = $1`, uid)
	if err := row.Scan(&usr.UID, &usr.Username, &usr.Pass, &usr.Role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, storerrors.ErrUserNotFound
		}
		return models.User{}, err
	}
	return usr, nil
}

func (dbs *DBStorage) SavePublisher(pub models.Publisher) (models.Publisher, error) {
	log := logger.Get()
	ctx, cancel := context.WithTimeout(context.Background(), consts.DBCtxTimeout)
	defer cancel()

	pub.PID = uuid.New().String()
	pub.BookCount = 0
	_, err := dbs.pool.Exec(ctx,
		`INSERT INTO publishers (pid, name, email, phone_number, website, book_count)
		 VALUES ($1, $2, $3, $4, $5, 0)`,
		pub.PID, pub.Name, pub.Email, pub.PhoneNumber, pub.Website)
	if err != nil {
		if isUniqueViolation(err, "publishers_name_key") {
			return models.Publisher{}, storerrors.ErrPublisherNameTaken
		}
		if isUniqueViolation(err, "publishers_email_key") {
			return models.Publisher{}, storerrors.ErrPublisherEmailTaken
		}
		log.Error().Err(err).Msg("failed to insert publisher")
		return models.Publisher{}, err
	}
	return pub, nil
}

func (dbs *DBStorage) GetPublisher(pid string) (models.Publisher, error) {
	ctx, cancel := context.WithTimeout(context.Background(), consts.DBCtxTimeout)
	defer cancel()
	row := dbs.pool.QueryRow(ctx,
		`SELECT pid, name, email, phone_number, website, book_count FROM publishers WHERE pid = $1`, pid)
	return scanPublisher(row)
}

func (dbs *DBStorage) GetPublishers() ([]models.Publisher, error) {
	ctx, cancel := context.WithTimeout(context.Background(), consts.DBCtxTimeout)
	defer cancel()
	rows, err := dbs.pool.Query(ctx,
		`SELECT pid, name, email, phone_number, website, book_count FROM publishers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pubs []models.Publisher
	for rows.Next() {
		pub, err := scanPublisher(rows)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, pub)
	}
	return pubs, rows.Err()
}

// DeletePublisher cascades inside one transaction, innermost rows first:
// reviews and authors of the publisher's books, then the books, then the
// publisher row.
func (dbs *DBStorage) DeletePublisher(pid string) error {
	log := logger.Get()
	ctx, cancel := context.WithTimeout(context.Background(), consts.DBCtxTimeout)
	defer cancel()

	return dbs.inTx(ctx, func(tx pgx.Tx) error {
		var exists string
		err := tx.QueryRow(ctx, `SELECT pid FROM publishers WHERE pid = $1 FOR UPDATE`, pid).Scan(&exists)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return storerrors.ErrPublisherNotFound
			}
			return err
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM reviews WHERE book_id IN (SELECT bid FROM books WHERE publisher_id = $1)`, pid); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM authors WHERE book_id IN (SELECT bid FROM books WHERE publisher_id = $1)`, pid); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM books WHERE publisher_id = $1`, pid); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM publishers WHERE pid = $1`, pid); err != nil {
			return err
		}
		log.Debug().Str("pid", pid).Msg("publisher deleted with cascade")
		return nil
	})
}

// SaveBook inserts the book and bumps the publisher's book_count in the same
// transaction. The publisher row is locked first so two concurrent creates
// against one publisher serialize instead of losing an increment.
func (dbs *DBStorage) SaveBook(book models.Book) (models.Book, error) {
	ctx, cancel := context.WithTimeout(context.Background(), consts.DBCtxTimeout)
	defer cancel()

	err := dbs.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockPublisher(ctx, tx, book.PublisherID); err != nil {
			return err
		}
		book.BID = uuid.New().String()
		if _, err := tx.Exec(ctx,
			`INSERT INTO books (bid, title, publisher_id) VALUES ($1, $2, $3)`,
			book.BID, book.Title, book.PublisherID); err != nil {
			return err
		}
		return adjustBookCount(ctx, tx, book.PublisherID, 1)
	})
	if err != nil {
		return models.Book{}, err
	}
	return book, nil
}

func (dbs *DBStorage) GetBook(bid string) (models.Book, error) {
	ctx, cancel := context.WithTimeout(context.Background(), consts.DBCtxTimeout)
	defer cancel()
	var book models.Book
	row := dbs.pool.QueryRow(ctx, `SELECT bid, title, publisher_id FROM books WHERE bid = $1`, bid)
	if err := row.Scan(&book.BID, &book.Title, &book.PublisherID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Book{}, storerrors.ErrBookNotFound
		}
		return models.Book{}, err
	}
	return book, nil
}

func (dbs *DBStorage) GetBooks() ([]models.Book, error) {
	ctx, cancel := context.WithTimeout(context.Background(), consts.DBCtxTimeout)
	defer cancel()
	rows, err := dbs.pool.Query(ctx, `SELECT bid, title, publisher_id FROM books`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []models.Book
	for rows.Next() {
		var book models.Book
		if err := rows.Scan(&book.BID, &book.Title, &book.PublisherID); err != nil {
			return nil, err
		}
		books = append(books, book)
	}
	return books, rows.Err()
}

// UpdateBook retitles the book and, when the publisher changes, moves one unit
// of book_count from the old publisher to the new one. Both publisher rows are
// locked before any write; a missing target publisher aborts the transaction
// before the old counter is touched.
func (dbs *DBStorage) UpdateBook(bid, title, publisherID string) (models.Book, error) {
	ctx, cancel := context.WithTimeout(context.Background(), consts.DBCtxTimeout)
	defer cancel()

	var book models.Book
	err := dbs.inTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT bid, title, publisher_id FROM books WHERE bid = $1 FOR UPDATE`, bid)
		if err := row.Scan(&book.BID, &book.Title, &book.PublisherID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return storerrors.ErrBookNotFound
			}
			return err
		}
		if publisherID != book.PublisherID {
			if err := lockPublisher(ctx, tx, book.PublisherID); err != nil {
				return err
			}
			if err := lockPublisher(ctx, tx, publisherID); err != nil {
				return err
			}
			if err := adjustBookCount(ctx, tx, book.PublisherID, -1); err != nil {
				return err
			}
			if err := adjustBookCount(ctx, tx, publisherID, 1); err != nil {
				return err
			}
			book.PublisherID = publisherID
		}
		book.Title = title
		_, err := tx.Exec(ctx, `UPDATE books SET title = $1, publisher_id = $2 WHERE bid = $3`,
			book.Title, book.PublisherID, bid)
		return err
	})
	if err != nil {
		return models.Book{}, err
	}
	return book, nil
}

func (dbs *DBStorage) DeleteBook(bid string) error {
	ctx, cancel := context.WithTimeout(context.Background(), consts.DBCtxTimeout)
	defer cancel()

	return dbs.inTx(ctx, func(tx pgx.Tx) error {
		var publisherID string
		row := tx.QueryRow(ctx, `SELECT publisher_id FROM books WHERE bid = $1 FOR UPDATE`, bid)
		if err := row.Scan(&publisherID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return storerrors.ErrBookNotFound
			}
			return err
		}
		if err := lockPublisher(ctx, tx, publisherID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM reviews WHERE book_id = $1`, bid); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM authors WHERE book_id = $1`, bid); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM books WHERE bid = $1`, bid); err != nil {
			return err
		}
		return adjustBookCount(ctx, tx, publisherID, -1)
	})
}

func (dbs *DBStorage) SaveAuthor(author models.Author) (models.Author, error) {
	ctx, cancel := context.WithTimeout(context.Background(), consts.DBCtxTimeout)
	defer cancel()

	var exists string
	err := dbs.pool.QueryRow(ctx, `SELECT bid FROM books WHERE bid = $1`, author.BookID).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Author{}, storerrors.ErrBookNotFound
		}
		return models.Author{}, err
	}
	author.AID = uuid.New().String()
	_, err = dbs.pool.Exec(ctx,
		`INSERT INTO authors (aid, name, biography, birth_date, book_id) VALUES ($1, $2, $3, $4, $5)`,
		author.AID, author.Name, author.Biography, author.BirthDate, author.BookID)
	if err != nil {
		return models.Author{}, err
	}
	return author, nil
}

func (dbs *DBStorage) GetAuthors() ([]models.Author, error) {
	ctx, cancel := context.WithTimeout(context.Background(), consts.DBCtxTimeout)
	defer cancel()
	rows, err := dbs.pool.Query(ctx, `SELECT aid, name, biography, birth_date, book_id FROM authors`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var authors []models.Author
	for rows.Next() {
		var a models.Author
		if err := rows.Scan(&a.AID, &a.Name, &a.Biography, &a.BirthDate, &a.BookID); err != nil {
			return nil, err
		}
		authors = append(authors, a)
	}
	return authors, rows.Err()
}

func (dbs *DBStorage) SaveReview(review models.Review) (models.Review, error) {
	log := logger.Get()
	ctx, cancel := context.WithTimeout(context.Background(), consts.DBCtxTimeout)
	defer cancel()

	if review.Rating < 1 || review.Rating > 5 {
		return models.Review{}, storerrors.ErrInvalidRating
	}
	var exists string
	err := dbs.pool.QueryRow(ctx, `SELECT bid FROM books WHERE bid = $1`, review.BookID).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Review{}, storerrors.ErrBookNotFound
		}
		return models.Review{}, err
	}

	review.RID = uuid.New().String()
	review.CreatedAt = time.Now().UTC()
	_, err = dbs.pool.Exec(ctx,
		`INSERT INTO reviews (rid, book_id, user_id, rating, text, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		review.RID, review.BookID, review.UserID, review.Rating, review.Text, review.CreatedAt)
	if err != nil {
		log.Error().Err(err).Msg("failed to insert review")
		return models.Review{}, err
	}
	return review, nil
}

func (dbs *DBStorage) GetReviews(bookID string) ([]models.Review, error) {
	ctx, cancel := context.WithTimeout(context.Background(), consts.DBCtxTimeout)
	defer cancel()

	query := `SELECT rid, book_id, user_id, rating, text, created_at FROM reviews`
	args := []any{}
	if bookID != "" {
		query += ` WHERE book_id = $1`
		args = append(args, bookID)
	}
	rows, err := dbs.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reviews []models.Review
	for rows.Next() {
		var r models.Review
		if err := rows.Scan(&r.RID, &r.BookID, &r.UserID, &r.Rating, &r.Text, &r.CreatedAt); err != nil {
			return nil, err
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

func (dbs *DBStorage) UpdateReview(rid string, patch models.ReviewPatch, actor models.User) (models.Review, error) {
	ctx, cancel := context.WithTimeout(context.Background(), consts.DBCtxTimeout)
	defer cancel()

	var review models.Review
	err := dbs.inTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT rid, book_id, user_id, rating, text, created_at FROM reviews WHERE rid = $1 FOR UPDATE`, rid)
		if err := row.Scan(&review.RID, &review.BookID, &review.UserID, &review.Rating, &review.Text, &review.CreatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return storerrors.ErrReviewNotFound
			}
			return err
		}
		if review.UserID != actor.UID && actor.Role != models.RoleAdmin {
			return storerrors.ErrNotReviewOwner
		}
		if patch.Rating != nil {
			if *patch.Rating < 1 || *patch.Rating > 5 {
				return storerrors.ErrInvalidRating
			}
			review.Rating = *patch.Rating
		}
		if patch.Text != nil {
			review.Text = *patch.Text
		}
		_, err := tx.Exec(ctx, `UPDATE reviews SET rating = $1, text = $2 WHERE rid = $3`,
			review.Rating, review.Text, rid)
		return err
	})
	if err != nil {
		return models.Review{}, err
	}
	return review, nil
}

func (dbs *DBStorage) DeleteReview(rid string, actor models.User) error {
	ctx, cancel := context.WithTimeout(context.Background(), consts.DBCtxTimeout)
	defer cancel()

	return dbs.inTx(ctx, func(tx pgx.Tx) error {
		var ownerID string
		row := tx.QueryRow(ctx, `SELECT user_id FROM reviews WHERE rid = $1 FOR UPDATE`, rid)
		if err := row.Scan(&ownerID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return storerrors.ErrReviewNotFound
			}
			return err
		}
		if ownerID != actor.UID && actor.Role != models.RoleAdmin {
			return storerrors.ErrNotReviewOwner
		}
		_, err := tx.Exec(ctx, `DELETE FROM reviews WHERE rid = $1`, rid)
		return err
	})
}

// inTx runs fn inside one transaction: any error rolls every write back,
// otherwise the commit result is what the caller sees.
func (dbs *DBStorage) inTx(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := dbs.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()
	err = fn(tx)
	return err
}

// lockPublisher takes a row lock on the publisher for the rest of the
// transaction, or reports that the publisher does not exist.
func lockPublisher(ctx context.Context, tx pgx.Tx, pid string) error {
	var exists string
	err := tx.QueryRow(ctx, `SELECT pid FROM publishers WHERE pid = $1 FOR UPDATE`, pid).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storerrors.ErrPublisherNotFound
		}
		return err
	}
	return nil
}

// adjustBookCount is the only statement that changes book_count. The relative
// update is clamped at zero so a pre-existing inconsistency never drives the
// counter negative.
func adjustBookCount(ctx context.Context, tx pgx.Tx, pid string, delta int) error {
	_, err := tx.Exec(ctx,
		`UPDATE publishers SET book_count = GREATEST(book_count + $1, 0) WHERE pid = $2`, delta, pid)
	return err
}

func scanPublisher(row pgx.Row) (models.Publisher, error) {
	var pub models.Publisher
	err := row.Scan(&pub.PID, &pub.Name, &pub.Email, &pub.PhoneNumber, &pub.Website, &pub.BookCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Publisher{}, storerrors.ErrPublisherNotFound
		}
		return models.Publisher{}, err
	}
	return pub, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		pgErr.Code == pgerrcode.UniqueViolation &&
		pgErr.ConstraintName == constraint
}

func Migrations(dbDsn string, migrationsPath string) error {
	log := logger.Get()
	migratePath := fmt.Sprintf("file://%s", migrationsPath)
	m, err := migrate.New(migratePath, dbDsn)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info().Msg("no migrations to apply")
			return nil
		}
		return err
	}
	log.Info().Msg("all migrations applied")
	return nil
}
