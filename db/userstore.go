package db

import (
	"encoding/gob"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	app "github.com/etitcombe/jpconnect"
	"github.com/etitcombe/jpconnect/rand"
	"golang.org/x/crypto/bcrypt"
)

// File names of the user store inside its directory.
const (
	UsersFile      = "users.gob"
	UserTokensFile = "usertokens.gob"
)

// ErrNotFound is returned when a user or token does not exist.
var ErrNotFound = errors.New("not found")

// UserStoreFile implements the UserStore interface against the file system.
type UserStoreFile struct {
	UserPwPepper string
	dir          string
	lock         sync.Mutex
}

// NewUserStoreFile creates and returns a new instance of a UserStoreFile
// reading its files from dir.
func NewUserStoreFile(pepper, dir string) (*UserStoreFile, error) {
	if dir == "" {
		dir = "."
	}
	return &UserStoreFile{UserPwPepper: pepper, dir: dir}, nil
}

// Authenticate authenticates a user based on email and password
func (s *UserStoreFile) Authenticate(email, password string) (*app.User, error) {
	foundUser, err := s.ByEmail(email)
	if err != nil {
		return nil, err
	}

	err = bcrypt.CompareHashAndPassword([]byte(foundUser.PasswordHash), []byte(password+s.UserPwPepper))
	if err != nil {
		return nil, err
	}
	return foundUser, nil
}

// Close closes the underlying connection.
func (s *UserStoreFile) Close() {
}

// ByEmail retrieves a user by their email address.
func (s *UserStoreFile) ByEmail(email string) (*app.User, error) {
	users, err := s.retrieveUsers()
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

// ByRememberToken retrieves a user by their remember token.
func (s *UserStoreFile) ByRememberToken(token string) (*app.User, error) {
	userTokens, err := s.retrieveUserTokens()
	if err != nil {
		return nil, err
	}
	for _, t := range userTokens {
		if t.RememberToken == token {
			return s.ByEmail(t.Email)
		}
	}
	return nil, ErrNotFound
}

// CreateRememberToken creates a new remember token for a user.
func (s *UserStoreFile) CreateRememberToken(user *app.User) (string, error) {
	token, err := rand.RememberToken()
	if err != nil {
		return "", err
	}
	userToken := app.UserToken{
		Email:         user.Email,
		RememberToken: token,
	}

	userTokens, err := s.retrieveUserTokens()
	if err != nil {
		return "", err
	}
	userTokens = append(userTokens, userToken)
	if err := s.saveUserTokens(userTokens); err != nil {
		return "", err
	}
	return token, nil
}

// ClearRememberToken clears the remember token in the store.
func (s *UserStoreFile) ClearRememberToken(token string) error {
	userTokens, err := s.retrieveUserTokens()
	if err != nil {
		return err
	}
	kept := userTokens[:0]
	for _, t := range userTokens {
		if t.RememberToken != token {
			kept = append(kept, t)
		}
	}
	return s.saveUserTokens(kept)
}

// SaveUsers replaces the stored users.
func (s *UserStoreFile) SaveUsers(users []app.User) error {
	return s.save(UsersFile, users)
}

func (s *UserStoreFile) retrieveUsers() ([]app.User, error) {
	users := []app.User{}
	if err := s.load(UsersFile, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *UserStoreFile) retrieveUserTokens() ([]app.UserToken, error) {
	userTokens := []app.UserToken{}
	err := s.load(UserTokensFile, &userTokens)
	if os.IsNotExist(err) {
		return userTokens, nil
	}
	if err != nil {
		return nil, err
	}
	return userTokens, nil
}

func (s *UserStoreFile) saveUserTokens(userTokens []app.UserToken) error {
	return s.save(UserTokensFile, userTokens)
}

func (s *UserStoreFile) load(name string, v interface{}) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return err
	}
	defer f.Close()

	return gob.NewDecoder(f).Decode(v)
}

func (s *UserStoreFile) save(name string, v interface{}) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	return gob.NewEncoder(f).Encode(v)
}
