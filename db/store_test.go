package db

import (
	"context"
	"path/filepath"
	"testing"

	app "github.com/etitcombe/jpconnect"
	"golang.org/x/crypto/bcrypt"
)

func openOptionStore(t *testing.T) *OptionStore {
	t.Helper()
	s, err := NewOptionStore(filepath.Join(t.TempDir(), "db", "options.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOptionStore(t *testing.T) {
	ctx := context.Background()
	s := openOptionStore(t)

	o, err := s.Get(ctx, app.OptionsName)
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if o == nil || len(o) != 0 {
		t.Fatalf("expected empty options, got %#v", o)
	}

	want := app.Options{"id": float64(42), "master_user": float64(1)}
	if err := s.Update(ctx, app.OptionsName, want); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Update(ctx, app.OptionsName, app.Options{"id": float64(43)}); err != nil {
		t.Fatalf("Update again: %v", err)
	}
	got, err := s.Get(ctx, app.OptionsName)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got["id"] != float64(43) || len(got) != 1 {
		t.Fatalf("unexpected options %#v", got)
	}

	if err := s.Delete(ctx, app.OptionsName); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err = s.Get(ctx, app.OptionsName)
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty options after delete, got %#v", got)
	}
}

func TestOptionStoreMigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "options.db")
	for i := 0; i < 2; i++ {
		s, _ := NewOptionStore(path)
		if err := s.Open(); err != nil {
			t.Fatalf("Open #%d: %v", i, err)
		}
		s.Close()
	}
}

func TestOptionStoreRequiresDSN(t *testing.T) {
	s, _ := NewOptionStore("")
	if err := s.Open(); err == nil {
		t.Fatal("expected error without dsn")
	}
}

func TestUserStoreFile(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewUserStoreFile("pepper", dir)

	hash, err := bcrypt.GenerateFromPassword([]byte("secret"+"pepper"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveUsers([]app.User{{ID: 1, Email: "admin@example.com", PasswordHash: string(hash)}}); err != nil {
		t.Fatalf("SaveUsers: %v", err)
	}

	if _, err := s.Authenticate("admin@example.com", "wrong"); err == nil {
		t.Fatal("expected wrong password to fail")
	}
	u, err := s.Authenticate("ADMIN@example.com", "secret")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if u.ID != 1 {
		t.Fatalf("ID = %d", u.ID)
	}

	first, err := s.CreateRememberToken(u)
	if err != nil {
		t.Fatalf("CreateRememberToken: %v", err)
	}
	second, err := s.CreateRememberToken(u)
	if err != nil {
		t.Fatalf("CreateRememberToken: %v", err)
	}
	if got, err := s.ByRememberToken(first); err != nil || got.Email != u.Email {
		t.Fatalf("ByRememberToken = %v, %v", got, err)
	}

	if err := s.ClearRememberToken(first); err != nil {
		t.Fatalf("ClearRememberToken: %v", err)
	}
	if _, err := s.ByRememberToken(first); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for cleared token, got %v", err)
	}
	if _, err := s.ByRememberToken(second); err != nil {
		t.Fatalf("other token lost: %v", err)
	}
}
