// Package connection manages the connection between the site and the remote
// service: site registration, user authorization and the tokens issued by
// both.
//
// Tokens and identifiers live in two option blobs. The public blob
// (app.OptionsName) holds the remote site id and the master user. The
// private blob (app.PrivateOptionsName) holds the blog token, the user
// tokens and the pending authorization secrets.
package connection

import (
	"context"
	"net/url"
	"strconv"
	"sync"
	"time"

	app "github.com/etitcombe/jpconnect"
	"github.com/etitcombe/jpconnect/rand"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

// Option keys.
const (
	keySiteID       = "id"
	keyMasterUser   = "master_user"
	keyRegisterTime = "register_time"
	keyBlogToken    = "blog_token"
	keyUserTokens   = "user_tokens"
	keySecrets      = "secrets"
)

// SecretLifetime is how long a pending authorization stays valid.
const SecretLifetime = 10 * time.Minute

// AuthorizeScope is the scope requested for connected users.
const AuthorizeScope = "administrator"

// Site holds the public addresses sent to the remote service.
type Site struct {
	SiteURL  string
	HomeURL  string
	AdminURL string
}

// Manager implements app.ConnectionManager.
type Manager struct {
	store  app.OptionStore
	client *Client
	site   Site

	secretGenerator func() (string, error)
	logger          glog.Logger
	now             func() time.Time

	// mu serialises read-modify-write cycles of the option blobs.
	mu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithSecretGenerator replaces the generator of registration and
// authorization secrets.
func WithSecretGenerator(fn func() (string, error)) Option {
	return func(m *Manager) {
		if fn != nil {
			m.secretGenerator = fn
		}
	}
}

// WithLogger sets the logger of the manager.
func WithLogger(logger glog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock replaces the clock used for secret expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

var _ app.ConnectionManager = (*Manager)(nil)

// New returns a Manager persisting its state in store.
func New(store app.OptionStore, client *Client, site Site, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		client: client,
		site:   site,
		secretGenerator: func() (string, error) {
			return rand.String(24)
		},
		logger: glog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Register registers the site and stores the blog token.
func (m *Manager) Register(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	public, private, err := m.load(ctx)
	if err != nil {
		return err
	}
	if stringValue(private[keyBlogToken]) != "" {
		return connectionError("site is already registered", goerrors.CategoryConflict, ErrorAlreadyRegistered)
	}

	secret1, err := m.secretGenerator()
	if err != nil {
		return internalError(err, "generate registration secret")
	}
	secret2, err := m.secretGenerator()
	if err != nil {
		return internalError(err, "generate registration secret")
	}

	resp, err := m.client.Register(ctx, RegisterRequest{
		SiteURL:  m.site.SiteURL,
		HomeURL:  m.site.HomeURL,
		AdminURL: m.site.AdminURL,
		Secret1:  secret1,
		Secret2:  secret2,
	})
	if err != nil {
		return remoteError(err, "site registration failed", nil)
	}
	if resp.JetpackID == 0 || resp.JetpackSecret == "" {
		return remoteError(nil, "site registration returned no credentials", map[string]any{"jetpack_id": resp.JetpackID})
	}

	public[keySiteID] = resp.JetpackID
	public[keyRegisterTime] = m.now().Unix()
	private[keyBlogToken] = resp.JetpackSecret
	if err := m.save(ctx, public, private); err != nil {
		return err
	}

	m.logger.WithContext(ctx).Info("site registered", "site_id", resp.JetpackID)
	return nil
}

// ConnectUser returns the authorization URL the user must visit to be
// connected.
func (m *Manager) ConnectUser(ctx context.Context, userID int, redirect string) (string, error) {
	return m.AuthorizationURL(ctx, userID, redirect)
}

// AuthorizationURL returns the URL of the remote authorization page for
// userID. A pending authorization that has not expired is reused.
func (m *Manager) AuthorizationURL(ctx context.Context, userID int, redirect string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	public, private, err := m.load(ctx)
	if err != nil {
		return "", err
	}
	if stringValue(private[keyBlogToken]) == "" {
		return "", connectionError("site is not registered", goerrors.CategoryBadInput, ErrorNotRegistered)
	}

	secrets := mapValue(private[keySecrets])
	p, ok := parsePending(secrets[pendingKey(userID)])
	if !ok || p.expired(m.now()) || p.Redirect != redirect {
		secret, err := m.secretGenerator()
		if err != nil {
			return "", internalError(err, "generate authorization secret")
		}
		p = pending{
			State:    uuid.NewString(),
			Secret:   secret,
			Redirect: redirect,
			Expires:  m.now().Add(SecretLifetime).Unix(),
		}
		secrets[pendingKey(userID)] = p.options()
		private[keySecrets] = secrets
		if err := m.store.Update(ctx, app.PrivateOptionsName, private); err != nil {
			return "", internalError(err, "save authorization secret")
		}
	}

	query := url.Values{}
	query.Set("response_type", "code")
	query.Set("client_id", strconv.Itoa(intValue(public[keySiteID])))
	query.Set("redirect_uri", redirect)
	query.Set("state", p.State)
	query.Set("secret", p.Secret)
	query.Set("scope", AuthorizeScope)
	return m.client.AuthorizeURL(query), nil
}

// Authorize exchanges the authorization code returned to the site for a user
// token. The first user to connect becomes the master user.
func (m *Manager) Authorize(ctx context.Context, userID int, code, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	public, private, err := m.load(ctx)
	if err != nil {
		return err
	}
	blogToken := stringValue(private[keyBlogToken])
	if blogToken == "" {
		return connectionError("site is not registered", goerrors.CategoryBadInput, ErrorNotRegistered)
	}

	secrets := mapValue(private[keySecrets])
	p, ok := parsePending(secrets[pendingKey(userID)])
	if !ok || state == "" || p.State != state {
		return connectionError("authorization state is invalid", goerrors.CategoryAuth, ErrorStateInvalid)
	}
	if p.expired(m.now()) {
		delete(secrets, pendingKey(userID))
		private[keySecrets] = secrets
		if err := m.store.Update(ctx, app.PrivateOptionsName, private); err != nil {
			return internalError(err, "remove expired authorization secret")
		}
		return connectionError("authorization state has expired", goerrors.CategoryAuth, ErrorStateInvalid)
	}
	if code == "" {
		return connectionError("authorization code is required", goerrors.CategoryBadInput, ErrorStateInvalid)
	}

	resp, err := m.client.Token(ctx, blogToken, TokenRequest{
		Code:        code,
		ClientID:    intValue(public[keySiteID]),
		RedirectURI: p.Redirect,
		State:       state,
	})
	if err != nil {
		return remoteError(err, "user token exchange failed", map[string]any{"user_id": userID})
	}
	if resp.AccessToken == "" {
		return remoteError(nil, "user token exchange returned no token", map[string]any{"user_id": userID})
	}

	tokens := mapValue(private[keyUserTokens])
	tokens[strconv.Itoa(userID)] = resp.AccessToken + "." + strconv.Itoa(userID)
	private[keyUserTokens] = tokens
	delete(secrets, pendingKey(userID))
	private[keySecrets] = secrets
	if intValue(public[keyMasterUser]) == 0 {
		public[keyMasterUser] = userID
	}
	if err := m.save(ctx, public, private); err != nil {
		return err
	}

	m.logger.WithContext(ctx).Info("user connected", "user_id", userID)
	return nil
}

// DisconnectUser removes the token of userID. The master user cannot be
// disconnected while the site is registered.
func (m *Manager) DisconnectUser(ctx context.Context, userID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	public, private, err := m.load(ctx)
	if err != nil {
		return err
	}
	tokens := mapValue(private[keyUserTokens])
	key := strconv.Itoa(userID)
	if stringValue(tokens[key]) == "" {
		return connectionError("user is not connected", goerrors.CategoryNotFound, ErrorNotConnected)
	}
	if intValue(public[keyMasterUser]) == userID {
		return connectionError("the master user cannot be disconnected; disconnect the site instead",
			goerrors.CategoryConflict, ErrorMasterUser)
	}

	if err := m.client.UnlinkUser(ctx, stringValue(private[keyBlogToken]), intValue(public[keySiteID]), userID); err != nil {
		return remoteError(err, "user unlink failed", map[string]any{"user_id": userID})
	}

	delete(tokens, key)
	private[keyUserTokens] = tokens
	if err := m.store.Update(ctx, app.PrivateOptionsName, private); err != nil {
		return internalError(err, "save private options")
	}

	m.logger.WithContext(ctx).Info("user disconnected", "user_id", userID)
	return nil
}

// DisconnectSite deregisters the site from the remote service. The local
// tokens are left in place, see DeleteAllConnectionTokens.
func (m *Manager) DisconnectSite(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	public, private, err := m.load(ctx)
	if err != nil {
		return err
	}
	blogToken := stringValue(private[keyBlogToken])
	if blogToken == "" {
		return connectionError("site is not registered", goerrors.CategoryBadInput, ErrorNotRegistered)
	}

	siteID := intValue(public[keySiteID])
	if err := m.client.Deregister(ctx, blogToken, siteID); err != nil {
		return remoteError(err, "site deregistration failed", map[string]any{"site_id": siteID})
	}

	m.logger.WithContext(ctx).Info("site deregistered", "site_id", siteID)
	return nil
}

// DeleteAllConnectionTokens removes the blog token, every user token and the
// registration data.
func (m *Manager) DeleteAllConnectionTokens(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	public, private, err := m.load(ctx)
	if err != nil {
		return err
	}
	for _, key := range []string{keySiteID, keyMasterUser, keyRegisterTime} {
		delete(public, key)
	}
	for _, key := range []string{keyBlogToken, keyUserTokens, keySecrets} {
		delete(private, key)
	}
	if err := m.save(ctx, public, private); err != nil {
		return err
	}

	m.logger.WithContext(ctx).Info("connection tokens deleted")
	return nil
}

// AccessToken returns the token of userID, or the blog token when userID is 0.
func (m *Manager) AccessToken(ctx context.Context, userID int) (string, error) {
	private, err := m.store.Get(ctx, app.PrivateOptionsName)
	if err != nil {
		return "", internalError(err, "load private options")
	}
	if userID == 0 {
		return stringValue(private[keyBlogToken]), nil
	}
	return stringValue(mapValue(private[keyUserTokens])[strconv.Itoa(userID)]), nil
}

// IsMasterUser reports whether userID is the user that connected first.
func (m *Manager) IsMasterUser(ctx context.Context, userID int) (bool, error) {
	public, err := m.store.Get(ctx, app.OptionsName)
	if err != nil {
		return false, internalError(err, "load options")
	}
	master := intValue(public[keyMasterUser])
	return master != 0 && master == userID, nil
}

func (m *Manager) load(ctx context.Context) (app.Options, app.Options, error) {
	public, err := m.store.Get(ctx, app.OptionsName)
	if err != nil {
		return nil, nil, internalError(err, "load options")
	}
	private, err := m.store.Get(ctx, app.PrivateOptionsName)
	if err != nil {
		return nil, nil, internalError(err, "load private options")
	}
	return public, private, nil
}

// save writes both blobs. An empty blob is deleted instead of stored.
func (m *Manager) save(ctx context.Context, public, private app.Options) error {
	if err := m.put(ctx, app.OptionsName, public); err != nil {
		return internalError(err, "save options")
	}
	if err := m.put(ctx, app.PrivateOptionsName, private); err != nil {
		return internalError(err, "save private options")
	}
	return nil
}

func (m *Manager) put(ctx context.Context, name string, o app.Options) error {
	if len(o) == 0 {
		return m.store.Delete(ctx, name)
	}
	return m.store.Update(ctx, name, o)
}
