package repository

import (
	"errors"
	"sync"
	"time"

	"tunnel-chat/models"
)

// ErrNotFound is the shared miss sentinel for every repository. It is
// deliberately distinct from crypto failures so callers can tell
// "missing" from "corrupt".
var ErrNotFound = errors.New("not found")

type UserRepository interface {
	Create(username, email, hashedPwd string) (*models.User, error)
	FindByUsername(username string) (*models.User, error)
}

type InMemoryUserRepo struct {
	mu   sync.RWMutex
	byU  map[string]*models.User
}

func NewInMemoryUserRepo() *InMemoryUserRepo {
	return &InMemoryUserRepo{
		byU: make(map[string]*models.User),
	}
}

func (r *InMemoryUserRepo) Create(username, email, hashedPwd string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byU[username]; ok {
		return nil, errors.New("username already exists")
	}
	u := &models.User{
		Username:  username,
		Email:     email,
		Password:  hashedPwd,
		CreatedAt: time.Now(),
	}
	r.byU[u.Username] = u
	return u, nil
}

func (r *InMemoryUserRepo) FindByUsername(username string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byU[username]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}
