package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"lexhub/api/internal/store"
)

// mockUserStore is an in-memory UserStore keyed by lowercased email.
type mockUserStore struct {
	users      map[string]store.User
	emailIndex map[string]string
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:      make(map[string]store.User),
		emailIndex: make(map[string]string),
	}
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if userID, ok := m.emailIndex[strings.ToLower(email)]; ok {
		return m.users[userID], nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) CreateUser(ctx context.Context, user store.User) (store.User, error) {
	if _, exists := m.emailIndex[strings.ToLower(user.Email)]; exists {
		return store.User{}, fmt.Errorf("%w: users_email_lower_idx", store.ErrConflict)
	}
	user.ID = fmt.Sprintf("user-%d", len(m.users)+1)
	m.users[user.ID] = user
	m.emailIndex[strings.ToLower(user.Email)] = user.ID
	return user, nil
}

func (m *mockUserStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	user, ok := m.users[userID]
	if !ok {
		return errors.New("user not found")
	}
	user.PasswordHash = passwordHash
	m.users[userID] = user
	return nil
}

func newTestService() (*Service, *mockUserStore) {
	users := newMockUserStore()
	return NewService(users).WithCost(bcrypt.MinCost), users
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterRequest{Email: " Jan@Example.PL ", Password: "password123", DisplayName: "Jan Kowalski"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if user.Email != "jan@example.pl" || user.IsExpert || user.IsAdmin {
		t.Fatalf("unexpected user %+v", user)
	}
	if user.PasswordHash == "password123" {
		t.Fatal("password stored in plain text")
	}

	logged, err := svc.Login(ctx, "JAN@example.pl", "password123")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if logged.ID != user.ID {
		t.Fatalf("Login() returned %s, want %s", logged.ID, user.ID)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService()
	cases := []struct {
		name  string
		req   RegisterRequest
		field string
	}{
		{name: "bad email", req: RegisterRequest{Email: "nope", Password: "password123", DisplayName: "A"}, field: "email"},
		{name: "missing name", req: RegisterRequest{Email: "a@b.pl", Password: "password123"}, field: "displayName"},
		{name: "short password", req: RegisterRequest{Email: "a@b.pl", Password: "short", DisplayName: "A"}, field: "password"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tc.req)
			var vErr *ValidationError
			if !errors.As(err, &vErr) || vErr.Field != tc.field {
				t.Fatalf("expected validation error on %s, got %v", tc.field, err)
			}
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	req := RegisterRequest{Email: "dup@example.pl", Password: "password123", DisplayName: "Dup"}
	if _, err := svc.Register(ctx, req); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := svc.Register(ctx, req); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	if _, err := svc.Register(ctx, RegisterRequest{Email: "a@example.pl", Password: "password123", DisplayName: "A"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	for _, tc := range []struct{ email, password string }{
		{"a@example.pl", "wrong-password"},
		{"missing@example.pl", "password123"},
		{"", ""},
	} {
		if _, err := svc.Login(ctx, tc.email, tc.password); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("Login(%q) error = %v", tc.email, err)
		}
	}
}

func TestChangePassword(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	user, err := svc.Register(ctx, RegisterRequest{Email: "c@example.pl", Password: "password123", DisplayName: "C"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := svc.ChangePassword(ctx, user.ID, "wrong", "newpassword1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := svc.ChangePassword(ctx, user.ID, "password123", "newpassword1"); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}
	if _, err := svc.Login(ctx, "c@example.pl", "newpassword1"); err != nil {
		t.Fatalf("Login() with new password error = %v", err)
	}
}
