package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/avoronova/bookery/internal/domain/models"
	"github.com/avoronova/bookery/internal/logger"
	storerrors "github.com/avoronova/bookery/internal/storage/errors"
)

var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrForbidden          = errors.New("insufficient permissions")
)

// UserStore is the slice of storage the access control layer needs.
type UserStore interface {
	SaveUser(models.User) (models.User, error)
	UserByUsername(string) (models.User, error)
}

type Config struct {
	Secret   string
	TokenTTL time.Duration
	// OpenRoleSignup honors a caller-supplied role at registration. The
	// original system shipped with this on, which lets anyone register as
	// admin; turn it off to force every signup to customer.
	OpenRoleSignup bool
}

type Service struct {
	cfg   Config
	users UserStore
}

type Claims struct {
	jwt.RegisteredClaims
	Role models.Role `json:"role"`
}

func New(cfg Config, users UserStore) *Service {
	return &Service{cfg: cfg, users: users}
}

// Register creates a user with a bcrypt-hashed password. The requested role is
// honored only under OpenRoleSignup; otherwise, and when no role is given, the
// user becomes a customer.
func (s *Service) Register(username, password string, role models.Role) (models.User, error) {
	log := logger.Get()
	if role == "" || !s.cfg.OpenRoleSignup {
		role = models.RoleCustomer
	}
	if !role.Valid() {
		return models.User{}, ErrForbidden
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Error().Err(err).Msg("hash password failed")
		return models.User{}, err
	}
	return s.users.SaveUser(models.User{
		Username: username,
		Pass:     string(hash),
		Role:     role,
	})
}

// Authenticate answers with one error for both an unknown username and a wrong
// password, so callers cannot probe which usernames exist.
func (s *Service) Authenticate(username, password string) (models.User, error) {
	user, err := s.users.UserByUsername(username)
	if err != nil {
		if errors.Is(err, storerrors.ErrUserNotFound) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Pass), []byte(password)); err != nil {
		return models.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// IssueToken signs an HS256 token carrying the username as subject, the role,
// and an absolute expiry TokenTTL from now.
func (s *Service) IssueToken(user models.User) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
		},
		Role: user.Role,
	})
	return token.SignedString([]byte(s.cfg.Secret))
}

// VerifyToken checks signature and expiry, then resolves the subject back to a
// live user row. A token outlives its user only as garbage: once the row is
// gone the token verifies as invalid.
func (s *Service) VerifyToken(tokenStr string) (models.User, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(s.cfg.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.User{}, ErrTokenExpired
		}
		return models.User{}, ErrInvalidToken
	}
	if !token.Valid || claims.Subject == "" {
		return models.User{}, ErrInvalidToken
	}
	user, err := s.users.UserByUsername(claims.Subject)
	if err != nil {
		if errors.Is(err, storerrors.ErrUserNotFound) {
			return models.User{}, ErrInvalidToken
		}
		return models.User{}, err
	}
	return user, nil
}

// Authorize passes the user through when its role is listed in allowed. The
// sets are taken literally: admin gets in only where the route lists admin.
func (s *Service) Authorize(user models.User, allowed ...models.Role) error {
	for _, role := range allowed {
		if user.Role == role {
			return nil
		}
	}
	return ErrForbidden
}
