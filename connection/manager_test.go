package connection

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	app "github.com/etitcombe/jpconnect"
	"github.com/etitcombe/jpconnect/db"
)

// fakeRemote records the calls made to the remote service.
type fakeRemote struct {
	mu       sync.Mutex
	calls    []string
	bearers  []string
	bodies   []map[string]interface{}
	failPath string
}

func (f *fakeRemote) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var body map[string]interface{}
	json.NewDecoder(r.Body).Decode(&body)
	f.calls = append(f.calls, r.URL.Path)
	f.bearers = append(f.bearers, strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	f.bodies = append(f.bodies, body)

	if r.URL.Path == f.failPath {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	switch r.URL.Path {
	case "/register":
		json.NewEncoder(w).Encode(RegisterResponse{JetpackID: 77, JetpackSecret: "blog.secret"})
	case "/token":
		json.NewEncoder(w).Encode(TokenResponse{AccessToken: "user-" + body["code"].(string), Scope: AuthorizeScope})
	case "/deregister", "/unlink-user":
		w.WriteHeader(http.StatusOK)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeRemote) last() (string, string, map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.calls) - 1
	return f.calls[n], f.bearers[n], f.bodies[n]
}

// trackingStore records the option blobs deleted through it.
type trackingStore struct {
	*db.OptionStore
	deleted []string
}

func (s *trackingStore) Delete(ctx context.Context, name string) error {
	s.deleted = append(s.deleted, name)
	return s.OptionStore.Delete(ctx, name)
}

type fixture struct {
	manager *Manager
	store   *trackingStore
	remote  *fakeRemote
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := db.NewOptionStore(filepath.Join(t.TempDir(), "options.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	remote := &fakeRemote{}
	srv := httptest.NewServer(remote)
	t.Cleanup(srv.Close)

	f := &fixture{store: &trackingStore{OptionStore: store}, remote: remote, now: time.Unix(1_700_000_000, 0)}
	n := 0
	f.manager = New(f.store, NewClient(srv.URL, time.Second), Site{
		SiteURL:  "http://site.test/",
		HomeURL:  "http://site.test/",
		AdminURL: "http://site.test/admin/",
	},
		WithSecretGenerator(func() (string, error) {
			n++
			return "secret" + string(rune('a'+n-1)), nil
		}),
		WithClock(func() time.Time { return f.now }),
	)
	return f
}

func (f *fixture) register(t *testing.T) {
	t.Helper()
	if err := f.manager.Register(context.Background()); err != nil {
		t.Fatalf("Register: %v", err)
	}
}

func (f *fixture) connect(t *testing.T, userID int, code string) {
	t.Helper()
	ctx := context.Background()
	u, err := f.manager.ConnectUser(ctx, userID, "http://site.test/admin/?page=jetpack-connect-simple")
	if err != nil {
		t.Fatalf("ConnectUser: %v", err)
	}
	parsed, err := url.Parse(u)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.manager.Authorize(ctx, userID, code, parsed.Query().Get("state")); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if tok, _ := f.manager.AccessToken(ctx, 0); tok != "" {
		t.Fatalf("unexpected blog token %q", tok)
	}
	f.register(t)

	path, _, body := f.remote.last()
	if path != "/register" {
		t.Fatalf("last call = %s", path)
	}
	if body["secret_1"] != "secreta" || body["secret_2"] != "secretb" || body["admin_url"] != "http://site.test/admin/" {
		t.Fatalf("unexpected register body %#v", body)
	}

	tok, err := f.manager.AccessToken(ctx, 0)
	if err != nil || tok != "blog.secret" {
		t.Fatalf("AccessToken(0) = %q, %v", tok, err)
	}
	public, _ := f.store.Get(ctx, app.OptionsName)
	if public["id"] != float64(77) {
		t.Fatalf("site id = %#v", public["id"])
	}

	err = f.manager.Register(ctx)
	if !HasCode(err, ErrorAlreadyRegistered) {
		t.Fatalf("second Register error = %v", err)
	}
}

func TestRegisterRemoteFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.remote.failPath = "/register"

	err := f.manager.Register(ctx)
	if !HasCode(err, ErrorRemoteFailure) {
		t.Fatalf("Register error = %v", err)
	}
	if tok, _ := f.manager.AccessToken(ctx, 0); tok != "" {
		t.Fatalf("blog token stored after failure: %q", tok)
	}
}

func TestConnectUserRequiresRegistration(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.ConnectUser(context.Background(), 1, "http://site.test/admin/")
	if !HasCode(err, ErrorNotRegistered) {
		t.Fatalf("ConnectUser error = %v", err)
	}
}

func TestAuthorizationURL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t)

	redirect := "http://site.test/admin/?page=jetpack-connect-simple"
	first, err := f.manager.AuthorizationURL(ctx, 1, redirect)
	if err != nil {
		t.Fatalf("AuthorizationURL: %v", err)
	}
	u, _ := url.Parse(first)
	q := u.Query()
	if u.Path != "/authorize" || q.Get("client_id") != "77" || q.Get("redirect_uri") != redirect || q.Get("state") == "" {
		t.Fatalf("unexpected authorization url %s", first)
	}

	again, _ := f.manager.AuthorizationURL(ctx, 1, redirect)
	if again != first {
		t.Fatalf("pending authorization not reused: %s != %s", again, first)
	}

	f.now = f.now.Add(SecretLifetime)
	renewed, _ := f.manager.AuthorizationURL(ctx, 1, redirect)
	if renewed == first {
		t.Fatal("expired authorization was reused")
	}
}

func TestAuthorize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t)
	f.connect(t, 1, "abc")

	path, bearer, body := f.remote.last()
	if path != "/token" || bearer != "blog.secret" || body["code"] != "abc" {
		t.Fatalf("unexpected token call %s %s %#v", path, bearer, body)
	}
	tok, err := f.manager.AccessToken(ctx, 1)
	if err != nil || tok != "user-abc.1" {
		t.Fatalf("AccessToken(1) = %q, %v", tok, err)
	}
	if master, _ := f.manager.IsMasterUser(ctx, 1); !master {
		t.Fatal("first connected user is not the master user")
	}

	f.connect(t, 2, "def")
	if master, _ := f.manager.IsMasterUser(ctx, 2); master {
		t.Fatal("second connected user became the master user")
	}
}

func TestAuthorizeInvalidState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t)

	redirect := "http://site.test/admin/"
	if err := f.manager.Authorize(ctx, 1, "abc", "nope"); !HasCode(err, ErrorStateInvalid) {
		t.Fatalf("Authorize without pending state error = %v", err)
	}

	u, _ := f.manager.AuthorizationURL(ctx, 1, redirect)
	parsed, _ := url.Parse(u)
	state := parsed.Query().Get("state")

	if err := f.manager.Authorize(ctx, 1, "abc", "other"); !HasCode(err, ErrorStateInvalid) {
		t.Fatalf("Authorize with wrong state error = %v", err)
	}
	if err := f.manager.Authorize(ctx, 2, "abc", state); !HasCode(err, ErrorStateInvalid) {
		t.Fatalf("Authorize for another user error = %v", err)
	}

	f.now = f.now.Add(SecretLifetime + time.Second)
	if err := f.manager.Authorize(ctx, 1, "abc", state); !HasCode(err, ErrorStateInvalid) {
		t.Fatalf("Authorize with expired state error = %v", err)
	}
	if tok, _ := f.manager.AccessToken(ctx, 1); tok != "" {
		t.Fatalf("user token stored from invalid state: %q", tok)
	}
}

func TestDisconnectUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t)

	if err := f.manager.DisconnectUser(ctx, 1); !HasCode(err, ErrorNotConnected) {
		t.Fatalf("DisconnectUser without token error = %v", err)
	}

	f.connect(t, 1, "abc")
	f.connect(t, 2, "def")

	if err := f.manager.DisconnectUser(ctx, 1); !HasCode(err, ErrorMasterUser) {
		t.Fatalf("DisconnectUser for master error = %v", err)
	}
	if tok, _ := f.manager.AccessToken(ctx, 1); tok == "" {
		t.Fatal("master user token removed")
	}

	if err := f.manager.DisconnectUser(ctx, 2); err != nil {
		t.Fatalf("DisconnectUser: %v", err)
	}
	path, _, body := f.remote.last()
	if path != "/unlink-user" || body["user_id"] != float64(2) {
		t.Fatalf("unexpected unlink call %s %#v", path, body)
	}
	if tok, _ := f.manager.AccessToken(ctx, 2); tok != "" {
		t.Fatalf("user token not removed: %q", tok)
	}
}

func TestDisconnectSite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.manager.DisconnectSite(ctx); !HasCode(err, ErrorNotRegistered) {
		t.Fatalf("DisconnectSite unregistered error = %v", err)
	}

	f.register(t)
	f.connect(t, 1, "abc")

	if err := f.manager.DisconnectSite(ctx); err != nil {
		t.Fatalf("DisconnectSite: %v", err)
	}
	path, bearer, body := f.remote.last()
	if path != "/deregister" || bearer != "blog.secret" || body["jetpack_id"] != float64(77) {
		t.Fatalf("unexpected deregister call %s %s %#v", path, bearer, body)
	}
	if tok, _ := f.manager.AccessToken(ctx, 0); tok == "" {
		t.Fatal("DisconnectSite removed the blog token")
	}

	if err := f.manager.DeleteAllConnectionTokens(ctx); err != nil {
		t.Fatalf("DeleteAllConnectionTokens: %v", err)
	}
	if tok, _ := f.manager.AccessToken(ctx, 0); tok != "" {
		t.Fatalf("blog token left: %q", tok)
	}
	if tok, _ := f.manager.AccessToken(ctx, 1); tok != "" {
		t.Fatalf("user token left: %q", tok)
	}
	public, _ := f.store.Get(ctx, app.OptionsName)
	if len(public) != 0 {
		t.Fatalf("public options left: %#v", public)
	}
	if got := strings.Join(f.store.deleted, ","); got != app.OptionsName+","+app.PrivateOptionsName {
		t.Fatalf("deleted blobs = %q", got)
	}
}

func TestDisconnectSiteRemoteFailure(t *testing.T) {
	f := newFixture(t)
	f.register(t)
	f.remote.failPath = "/deregister"

	err := f.manager.DisconnectSite(context.Background())
	if !HasCode(err, ErrorRemoteFailure) {
		t.Fatalf("DisconnectSite error = %v", err)
	}
	if !strings.Contains(err.Error(), "deregistration") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
