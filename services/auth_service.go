package services

import (
	"errors"
	"regexp"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tunnel-chat/config"
	"tunnel-chat/models"
	"tunnel-chat/repository"
	"tunnel-chat/utils"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,16}$`)

// TokenInfo is the result of validating a bearer token, shaped the way
// the live core consumes it.
type TokenInfo struct {
	Valid    bool   `json:"valid"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Error    string `json:"error,omitempty"`
}

type AuthService struct {
	users  repository.UserRepository
	config *config.Config
}

func NewAuthService(userRepo repository.UserRepository, cfg *config.Config) *AuthService {
	return &AuthService{users: userRepo, config: cfg}
}

func (s *AuthService) Register(username, email, password string) (string, *models.User, error) {
	if !usernamePattern.MatchString(username) {
		return "", nil, errors.New("username must be 3-16 characters and can only contain letters, numbers, and underscores")
	}
	if len(password) < 6 {
		return "", nil, errors.New("password must be at least 6 characters long")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, err
	}

	user, err := s.users.Create(username, email, string(hashed))
	if err != nil {
		return "", nil, err
	}

	token, err := s.CreateToken(user.Username)
	return token, user, err
}

func (s *AuthService) Login(username, password string) (string, *models.User, error) {
	if username == "" || password == "" {
		return "", nil, errors.New("username and password are required")
	}

	user, err := s.users.FindByUsername(username)
	if err != nil {
		return "", nil, errors.New("invalid credentials")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return "", nil, errors.New("invalid credentials")
	}

	token, err := s.CreateToken(user.Username)
	return token, user, err
}

func (s *AuthService) CreateToken(username string) (string, error) {
	expiry := time.Duration(s.config.JWTExpiry) * time.Hour
	return utils.GenerateJWT(s.config.JWTSecret, username, expiry)
}

// ValidateToken checks a bearer token and resolves the identity behind
// it. It never returns an error; failures are reported in the result so
// the session handler can relay them verbatim.
func (s *AuthService) ValidateToken(token string) TokenInfo {
	username, err := utils.ParseJWT(s.config.JWTSecret, token)
	if err != nil {
		return TokenInfo{Valid: false, Error: "Invalid or expired token"}
	}

	user, err := s.users.FindByUsername(username)
	if err != nil {
		return TokenInfo{Valid: false, Error: "User not found"}
	}

	return TokenInfo{Valid: true, Username: user.Username, Email: user.Email}
}
