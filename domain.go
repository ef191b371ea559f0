package app

import "context"

// Names of the persisted option records owned by the connection manager.
const (
	OptionsName        = "jetpack_options"
	PrivateOptionsName = "jetpack_private_options"
)

// Options is a persisted key-value option blob.
type Options map[string]interface{}

// OptionStore represents the actions that can be taken about option blobs.
type OptionStore interface {
	// Get returns the named option blob, or an empty blob when it does not exist.
	Get(ctx context.Context, name string) (Options, error)
	Update(ctx context.Context, name string, o Options) error
	Delete(ctx context.Context, name string) error
}

// UserStore represents the actions that can be taken about users.
type UserStore interface {
	Close()
	Authenticate(email, password string) (*User, error)
	ByEmail(email string) (*User, error)
	ByRememberToken(token string) (*User, error)
	CreateRememberToken(user *User) (string, error)
	ClearRememberToken(token string) error
}

// ConnectionManager represents the actions that can be taken about the
// connection between this site and the remote service.
type ConnectionManager interface {
	// Register registers the site with the remote service and stores the
	// blog token it is issued.
	Register(ctx context.Context) error
	// ConnectUser starts the authorization flow for a user and returns the
	// URL the user must visit.
	ConnectUser(ctx context.Context, userID int, redirect string) (string, error)
	DisconnectUser(ctx context.Context, userID int) error
	DisconnectSite(ctx context.Context) error
	DeleteAllConnectionTokens(ctx context.Context) error
	// AccessToken returns the token of a user, or the blog token when userID
	// is 0. An empty string means there is no token.
	AccessToken(ctx context.Context, userID int) (string, error)
	AuthorizationURL(ctx context.Context, userID int, redirect string) (string, error)
	// Authorize completes the authorization flow started by ConnectUser.
	Authorize(ctx context.Context, userID int, code, state string) error
	IsMasterUser(ctx context.Context, userID int) (bool, error)
}

// User represents an administrator of the site.
type User struct {
	ID           int
	Email        string
	PasswordHash string
}

// UserToken is a remember token created by a user.
type UserToken struct {
	Email         string
	RememberToken string
}
