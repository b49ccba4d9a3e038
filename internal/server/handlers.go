package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/avoronova/bookery/internal/auth"
	"github.com/avoronova/bookery/internal/domain/models"
	"github.com/avoronova/bookery/internal/logger"
	storerrors "github.com/avoronova/bookery/internal/storage/errors"
)

type registerRequest struct {
	Username string      `json:"username" validate:"required,min=3"`
	Password string      `json:"password" validate:"required,min=8"`
	Role     models.Role `json:"role"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (s *Server) Register(ctx *gin.Context) {
	log := logger.Get()
	var req registerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.String(http.StatusBadRequest, "incorrectly entered data")
		return
	}
	if err := s.valid.Struct(req); err != nil {
		ctx.String(http.StatusBadRequest, "incorrectly entered data")
		return
	}

	user, err := s.auth.Register(req.Username, req.Password, req.Role)
	if err != nil {
		if errors.Is(err, storerrors.ErrUserExists) {
			ctx.String(http.StatusConflict, "user already exists")
			return
		}
		if errors.Is(err, auth.ErrForbidden) {
			ctx.String(http.StatusBadRequest, "unknown role")
			return
		}
		log.Error().Err(err).Msg("register failed")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	token, err := s.auth.IssueToken(user)
	if err != nil {
		log.Error().Err(err).Msg("create token failed")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.Header("Authorization", token)
	ctx.JSON(http.StatusCreated, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (s *Server) Login(ctx *gin.Context) {
	log := logger.Get()
	var req loginRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("unmarshal body failed")
		ctx.String(http.StatusBadRequest, "incorrectly entered data")
		return
	}
	if err := s.valid.Struct(req); err != nil {
		ctx.String(http.StatusBadRequest, "incorrectly entered data")
		return
	}

	user, err := s.auth.Authenticate(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			ctx.String(http.StatusUnauthorized, err.Error())
			return
		}
		log.Error().Err(err).Msg("authenticate failed")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	token, err := s.auth.IssueToken(user)
	if err != nil {
		log.Error().Err(err).Msg("create token failed")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.Header("Authorization", token)
	ctx.JSON(http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (s *Server) CurrentUser(ctx *gin.Context) {
	user, ok := principal(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "no authenticated user"})
		return
	}
	ctx.JSON(http.StatusOK, user)
}

func (s *Server) AllBooks(ctx *gin.Context) {
	books, err := s.storage.GetBooks()
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, books)
}

func (s *Server) BookInfo(ctx *gin.Context) {
	book, err := s.storage.GetBook(ctx.Param("id"))
	if err != nil {
		if errors.Is(err, storerrors.ErrBookNotFound) {
			ctx.String(http.StatusNotFound, err.Error())
			return
		}
		ctx.String(http.StatusInternalServerError, err.Error())
		return
	}
	ctx.JSON(http.StatusOK, book)
}

func (s *Server) AddBook(ctx *gin.Context) {
	log := logger.Get()
	var book models.Book
	if err := ctx.ShouldBindJSON(&book); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.valid.Struct(book); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	saved, err := s.storage.SaveBook(book)
	if err != nil {
		if errors.Is(err, storerrors.ErrPublisherNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Msg("save book failed")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusCreated, saved)
}

func (s *Server) UpdateBook(ctx *gin.Context) {
	log := logger.Get()
	var book models.Book
	if err := ctx.ShouldBindJSON(&book); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.valid.Struct(book); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := s.storage.UpdateBook(ctx.Param("id"), book.Title, book.PublisherID)
	if err != nil {
		if errors.Is(err, storerrors.ErrBookNotFound) || errors.Is(err, storerrors.ErrPublisherNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Msg("update book failed")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, updated)
}

func (s *Server) RemoveBook(ctx *gin.Context) {
	log := logger.Get()
	if err := s.storage.DeleteBook(ctx.Param("id")); err != nil {
		if errors.Is(err, storerrors.ErrBookNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Msg("failed to delete book")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete book"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "book deleted"})
}

func (s *Server) AllPublishers(ctx *gin.Context) {
	pubs, err := s.storage.GetPublishers()
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, pubs)
}

func (s *Server) PublisherInfo(ctx *gin.Context) {
	pub, err := s.storage.GetPublisher(ctx.Param("id"))
	if err != nil {
		if errors.Is(err, storerrors.ErrPublisherNotFound) {
			ctx.String(http.StatusNotFound, err.Error())
			return
		}
		ctx.String(http.StatusInternalServerError, err.Error())
		return
	}
	ctx.JSON(http.StatusOK, pub)
}

func (s *Server) AddPublisher(ctx *gin.Context) {
	log := logger.Get()
	var pub models.Publisher
	if err := ctx.ShouldBindJSON(&pub); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.valid.Struct(pub); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	saved, err := s.storage.SavePublisher(pub)
	if err != nil {
		if errors.Is(err, storerrors.ErrPublisherNameTaken) || errors.Is(err, storerrors.ErrPublisherEmailTaken) {
			ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Msg("save publisher failed")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusCreated, saved)
}

// RemovePublisher deletes the publisher and, with it, every book the
// publisher owns along with their authors and reviews. There is no undo.
func (s *Server) RemovePublisher(ctx *gin.Context) {
	log := logger.Get()
	if err := s.storage.DeletePublisher(ctx.Param("id")); err != nil {
		if errors.Is(err, storerrors.ErrPublisherNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Msg("failed to delete publisher")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete publisher"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "publisher deleted"})
}

func (s *Server) AllAuthors(ctx *gin.Context) {
	authors, err := s.storage.GetAuthors()
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, authors)
}

func (s *Server) AddAuthor(ctx *gin.Context) {
	log := logger.Get()
	var author models.Author
	if err := ctx.ShouldBindJSON(&author); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.valid.Struct(author); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	saved, err := s.storage.SaveAuthor(author)
	if err != nil {
		if errors.Is(err, storerrors.ErrBookNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Msg("save author failed")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusCreated, saved)
}

func (s *Server) AllReviews(ctx *gin.Context) {
	reviews, err := s.storage.GetReviews(ctx.DefaultQuery("book_id", ""))
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, reviews)
}

func (s *Server) AddReview(ctx *gin.Context) {
	log := logger.Get()
	user, ok := principal(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "no authenticated user"})
		return
	}
	var review models.Review
	if err := ctx.ShouldBindJSON(&review); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.valid.Struct(review); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	review.UserID = user.UID
	saved, err := s.storage.SaveReview(review)
	if err != nil {
		if errors.Is(err, storerrors.ErrBookNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if errors.Is(err, storerrors.ErrInvalidRating) {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Msg("save review failed")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusCreated, saved)
}

func (s *Server) UpdateReview(ctx *gin.Context) {
	log := logger.Get()
	user, ok := principal(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "no authenticated user"})
		return
	}
	var patch models.ReviewPatch
	if err := ctx.ShouldBindJSON(&patch); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	updated, err := s.storage.UpdateReview(ctx.Param("id"), patch, user)
	if err != nil {
		switch {
		case errors.Is(err, storerrors.ErrReviewNotFound):
			ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, storerrors.ErrNotReviewOwner):
			ctx.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		case errors.Is(err, storerrors.ErrInvalidRating):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			log.Error().Err(err).Msg("update review failed")
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	ctx.JSON(http.StatusOK, updated)
}

func (s *Server) RemoveReview(ctx *gin.Context) {
	log := logger.Get()
	user, ok := principal(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "no authenticated user"})
		return
	}

	if err := s.storage.DeleteReview(ctx.Param("id"), user); err != nil {
		switch {
		case errors.Is(err, storerrors.ErrReviewNotFound):
			ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, storerrors.ErrNotReviewOwner):
			ctx.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		default:
			log.Error().Err(err).Msg("delete review failed")
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "review deleted"})
}
