package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"tradesim/internal/config"
	"tradesim/internal/models"
)

var (
	ErrUserExists         = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid username and/or password")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrMissingUsername    = errors.New("username must not be empty")
	ErrInvalidToken       = errors.New("invalid session token")
)

// Service handles registration, credential verification and session
// tokens. Sessions are stateless JWTs carrying the resolved user ID;
// logout is the client discarding its token.
type Service struct {
	logger       *zap.Logger
	db           *gorm.DB
	jwtSecret    []byte
	tokenTTL     time.Duration
	startingCash decimal.Decimal
}

// NewService creates a new auth service.
func NewService(logger *zap.Logger, db *gorm.DB, cfg *config.Config) *Service {
	return &Service{
		logger:       logger,
		db:           db,
		jwtSecret:    []byte(cfg.Auth.JWTSecret),
		tokenTTL:     cfg.Auth.TokenTTL,
		startingCash: decimal.NewFromFloat(cfg.Trading.StartingCash),
	}
}

// Register creates a new user with the configured starting cash balance.
// The username must be unique (case-sensitive exact match) and the
// password must satisfy the acceptability policy. Only a bcrypt hash of
// the password is ever stored.
func (s *Service) Register(ctx context.Context, username, password, confirmation string) (*models.User, error) {
	if username == "" {
		return nil, ErrMissingUsername
	}
	if password != confirmation {
		return nil, ErrPasswordMismatch
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("could not hash password: %w", err)
	}

	user := models.User{
		Username:     username,
		PasswordHash: string(hash),
		Cash:         s.startingCash,
	}
	// The unique index on username is the authority on duplicates: a
	// check-then-create pair would race against a concurrent
	// registration of the same name.
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("could not create user: %w", err)
	}

	s.logger.Info("Registered new user", zap.String("username", username), zap.Uint("user_id", user.ID))
	return &user, nil
}

// isUniqueViolation reports whether err is the store rejecting a row
// that collides with a unique index.
func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Authenticate verifies a username/password pair. Unknown usernames and
// wrong passwords fail identically; bcrypt's comparison is constant-time.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("could not load user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// IssueToken creates a signed session token for a user.
func (s *Service) IssueToken(user *models.User) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  user.ID,
		"username": user.Username,
		"exp":      time.Now().Add(s.tokenTTL).Unix(),
	})
	return token.SignedString(s.jwtSecret)
}

// VerifyToken validates a session token and returns the user ID it was
// issued for.
func (s *Service) VerifyToken(tokenString string) (uint, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return 0, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, ErrInvalidToken
	}
	id, ok := claims["user_id"].(float64)
	if !ok || id <= 0 {
		return 0, ErrInvalidToken
	}
	return uint(id), nil
}
