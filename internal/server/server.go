package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/avoronova/bookery/internal/auth"
	"github.com/avoronova/bookery/internal/config"
	"github.com/avoronova/bookery/internal/domain/models"
	"github.com/avoronova/bookery/internal/logger"
)

const principalKey = "principal"

type Storage interface {
	SaveUser(models.User) (models.User, error)
	UserByUsername(string) (models.User, error)
	GetUser(string) (models.User, error)

	SavePublisher(models.Publisher) (models.Publisher, error)
	GetPublisher(string) (models.Publisher, error)
	GetPublishers() ([]models.Publisher, error)
	DeletePublisher(string) error

	SaveBook(models.Book) (models.Book, error)
	GetBook(string) (models.Book, error)
	GetBooks() ([]models.Book, error)
	UpdateBook(bid, title, publisherID string) (models.Book, error)
	DeleteBook(string) error

	SaveAuthor(models.Author) (models.Author, error)
	GetAuthors() ([]models.Author, error)

	SaveReview(models.Review) (models.Review, error)
	GetReviews(bookID string) ([]models.Review, error)
	UpdateReview(rid string, patch models.ReviewPatch, actor models.User) (models.Review, error)
	DeleteReview(rid string, actor models.User) error
}

type Server struct {
	serv    *http.Server
	valid   *validator.Validate
	auth    *auth.Service
	storage Storage
	ErrChan chan error
}

func New(cfg config.Config, stor Storage) *Server {
	server := http.Server{ //nolint:gosec // not today
		Addr: cfg.Addr,
	}
	return &Server{
		serv:  &server,
		valid: validator.New(),
		auth: auth.New(auth.Config{
			Secret:         cfg.Secret,
			TokenTTL:       cfg.TokenTTL,
			OpenRoleSignup: cfg.OpenRoleSignup,
		}, stor),
		storage: stor,
		ErrChan: make(chan error),
	}
}

func (s *Server) ShutdownServer() error {
	return s.serv.Shutdown(context.Background())
}

func (s *Server) Run(ctx context.Context) error {
	log := logger.Get()
	s.serv.Handler = s.Router()
	log.Info().Str("host", s.serv.Addr).Msg("server started")
	if err := s.serv.ListenAndServe(); err != nil {
		return err
	}
	return nil
}

// Router wires the route table. Role sets are spelled out per group on
// purpose: admin has publisher and customer access only because those groups
// list the admin role, not through any hierarchy rule.
func (s *Server) Router() *gin.Engine {
	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * 3600,
	}))
	router.GET("/", func(ctx *gin.Context) { ctx.String(http.StatusOK, "Hello") })
	router.POST("/register", s.Register)
	router.POST("/login", s.Login)

	customer := router.Group("/", s.Authenticated(),
		s.RequireRoles(models.RoleAdmin, models.RolePublisher, models.RoleCustomer))
	{
		customer.GET("/users/me", s.CurrentUser)
		customer.GET("/books", s.AllBooks)
		customer.GET("/books/:id", s.BookInfo)
		customer.GET("/publishers", s.AllPublishers)
		customer.GET("/publishers/:id", s.PublisherInfo)
		customer.GET("/authors", s.AllAuthors)
		customer.GET("/reviews", s.AllReviews)
		customer.POST("/reviews", s.AddReview)
		customer.PUT("/reviews/:id", s.UpdateReview)
		customer.DELETE("/reviews/:id", s.RemoveReview)
	}

	publisher := router.Group("/", s.Authenticated(),
		s.RequireRoles(models.RoleAdmin, models.RolePublisher))
	{
		publisher.POST("/books", s.AddBook)
		publisher.PUT("/books/:id", s.UpdateBook)
		publisher.DELETE("/books/:id", s.RemoveBook)
		publisher.POST("/publishers", s.AddPublisher)
		publisher.POST("/authors", s.AddAuthor)
	}

	admin := router.Group("/", s.Authenticated(), s.RequireRoles(models.RoleAdmin))
	{
		admin.DELETE("/publishers/:id", s.RemovePublisher)
	}

	return router
}

func (s *Server) Close() error {
	return s.serv.Shutdown(context.TODO())
}

// Authenticated pulls the bearer token out of the Authorization header,
// verifies it and stores the resolved user in the request context.
func (s *Server) Authenticated() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		log := logger.Get()

		tokenHeader := ctx.GetHeader("Authorization")
		if tokenHeader == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			return
		}
		tokenParts := strings.Split(tokenHeader, " ")
		if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token format"})
			return
		}

		user, err := s.auth.VerifyToken(tokenParts[1])
		if err != nil {
			log.Error().Err(err).Msg("validate token failed")
			if errors.Is(err, auth.ErrTokenExpired) {
				ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token expired"})
				return
			}
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		ctx.Set(principalKey, user)
		ctx.Next()
	}
}

// RequireRoles rejects any principal whose role is outside the given set.
func (s *Server) RequireRoles(allowed ...models.Role) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		user, ok := principal(ctx)
		if !ok {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "no authenticated user"})
			return
		}
		if err := s.auth.Authorize(user, allowed...); err != nil {
			ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		ctx.Next()
	}
}

func principal(ctx *gin.Context) (models.User, bool) {
	v, ok := ctx.Get(principalKey)
	if !ok {
		return models.User{}, false
	}
	user, ok := v.(models.User)
	return user, ok
}
