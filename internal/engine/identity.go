package engine

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"crewline/internal/domain"
	"crewline/internal/events"
	"crewline/internal/repo"
)

// ErrInvalidCredentials covers both unknown usernames and wrong passwords, so
// login failures do not reveal which of the two it was.
var ErrInvalidCredentials = errors.New("invalid username or password")

// RegisterBrawler creates an account with a bcrypt-hashed password.
func (e Engine) RegisterBrawler(ctx context.Context, username, password string) (domain.Brawler, error) {
	if username == "" {
		return domain.Brawler{}, errors.New("username is required")
	}
	if password == "" {
		return domain.Brawler{}, errors.New("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.Brawler{}, err
	}
	b := domain.Brawler{
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    e.nowString(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Brawler{}, err
	}
	defer tx.Rollback()
	id, err := e.Repo.InsertBrawler(ctx, tx, b)
	if err != nil {
		return domain.Brawler{}, err
	}
	b.ID = id
	if err := e.Events.Append(ctx, tx, "brawler.registered", "brawler", entityID(id), id, events.EventPayload{
		"username": username,
	}); err != nil {
		return domain.Brawler{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Brawler{}, err
	}
	b.PasswordHash = ""
	return b, nil
}

// Authenticate checks a username/password pair and returns the brawler on
// success.
func (e Engine) Authenticate(ctx context.Context, username, password string) (domain.Brawler, error) {
	b, err := e.Repo.GetBrawlerByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Brawler{}, ErrInvalidCredentials
		}
		return domain.Brawler{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(b.PasswordHash), []byte(password)); err != nil {
		return domain.Brawler{}, ErrInvalidCredentials
	}
	b.PasswordHash = ""
	return b, nil
}
