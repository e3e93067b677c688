package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"escrowflow/apperr"
)

type fakeRepository struct {
	byMobile map[string]User
	nextID   int64
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{byMobile: map[string]User{}, nextID: 1}
}

func (r *fakeRepository) GetOrCreateUserID(_ context.Context, name, mobile string) (int64, error) {
	mobile = NormalizeMobile(mobile)
	if u, ok := r.byMobile[mobile]; ok {
		return u.ID, nil
	}
	u := User{ID: r.nextID, Name: name, Mobile: mobile, Role: RoleUser}
	r.nextID++
	r.byMobile[mobile] = u
	return u.ID, nil
}

func (r *fakeRepository) GetUserByID(_ context.Context, id int64) (User, error) {
	for _, u := range r.byMobile {
		if u.ID == id {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (r *fakeRepository) DeviceTokens(context.Context, []int64) (map[int64]string, error) {
	return map[int64]string{}, nil
}

func (r *fakeRepository) SetDeviceToken(context.Context, int64, string) error { return nil }

type fakeOTPStore struct {
	entries map[string]OTPEntry
	ttls    map[string]time.Duration
	err     error
}

func newFakeOTPStore() *fakeOTPStore {
	return &fakeOTPStore{entries: map[string]OTPEntry{}, ttls: map[string]time.Duration{}}
}

func (s *fakeOTPStore) Put(_ context.Context, mobile string, e OTPEntry, ttl time.Duration) error {
	if s.err != nil {
		return s.err
	}
	s.entries[mobile] = e
	s.ttls[mobile] = ttl
	return nil
}

func (s *fakeOTPStore) Get(_ context.Context, mobile string) (*OTPEntry, error) {
	if s.err != nil {
		return nil, s.err
	}
	e, ok := s.entries[mobile]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *fakeOTPStore) Touch(_ context.Context, mobile string, e OTPEntry) error {
	s.entries[mobile] = e
	return nil
}

func (s *fakeOTPStore) Delete(_ context.Context, mobile string) error {
	delete(s.entries, mobile)
	return nil
}

type fakeSMS struct {
	last map[string]string
}

func (f *fakeSMS) SendOTP(_ context.Context, mobile, code string) error {
	if f.last == nil {
		f.last = map[string]string{}
	}
	f.last[mobile] = code
	return nil
}

func newTestService() (*Service, *fakeRepository, *fakeOTPStore, *fakeSMS) {
	repo := newFakeRepository()
	store := newFakeOTPStore()
	sms := &fakeSMS{}
	svc := NewService(repo, store, sms, "test-secret", Options{})
	return svc, repo, store, sms
}

func TestOTPLogin(t *testing.T) {
	svc, _, store, sms := newTestService()
	ctx := context.Background()

	if err := svc.RequestOTP(ctx, "+1 555-0100"); err != nil {
		t.Fatalf("request otp: %v", err)
	}
	code := sms.last["+15550100"]
	if len(code) != 6 {
		t.Fatalf("expected 6 digit code, got %q", code)
	}
	entry := store.entries["+15550100"]
	if entry.Hash == "" || entry.Hash == code {
		t.Fatalf("expected hashed code in store, got %+v", entry)
	}
	if store.ttls["+15550100"] != 5*time.Minute {
		t.Fatalf("expected 5m ttl, got %s", store.ttls["+15550100"])
	}

	res, err := svc.VerifyOTP(ctx, "+15550100", code, "Alice")
	if err != nil {
		t.Fatalf("verify otp: %v", err)
	}
	if res.User.Mobile != "+15550100" || res.Token == "" {
		t.Fatalf("unexpected login result %+v", res)
	}
	if _, ok := store.entries["+15550100"]; ok {
		t.Fatalf("expected otp consumed")
	}

	actor, err := svc.VerifyToken(res.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if actor.UserID != res.User.ID || actor.Role != RoleUser || actor.IsAdmin() {
		t.Fatalf("unexpected actor %+v", actor)
	}

	if _, err := svc.VerifyOTP(ctx, "+15550100", code, "Alice"); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("expected reused otp rejected, got %v", err)
	}
}

func TestVerifyOTP_AttemptLimit(t *testing.T) {
	svc, _, store, sms := newTestService()
	ctx := context.Background()
	if err := svc.RequestOTP(ctx, "0500"); err != nil {
		t.Fatalf("request otp: %v", err)
	}
	wrong := "000000"
	if sms.last["0500"] == wrong {
		wrong = "111111"
	}

	for i := 0; i < maxOTPAttempts; i++ {
		if _, err := svc.VerifyOTP(ctx, "0500", wrong, ""); !errors.Is(err, ErrInvalidOTP) {
			t.Fatalf("attempt %d: expected ErrInvalidOTP, got %v", i, err)
		}
	}
	if _, err := svc.VerifyOTP(ctx, "0500", sms.last["0500"], ""); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected ErrTooManyAttempts, got %v", err)
	}
	if _, ok := store.entries["0500"]; ok {
		t.Fatalf("expected entry dropped after lockout")
	}
}

func TestOTP_StoreFailureIsDependency(t *testing.T) {
	svc, _, store, _ := newTestService()
	store.err = errors.New("connection refused")

	err := svc.RequestOTP(context.Background(), "0500")
	if !apperr.Is(err, apperr.KindDependencyFailure) {
		t.Fatalf("expected dependency failure, got %v", err)
	}
	if _, err := svc.VerifyOTP(context.Background(), "", "1", ""); !errors.Is(err, ErrMobileRequired) {
		t.Fatalf("expected ErrMobileRequired, got %v", err)
	}
}

func TestVerifyToken_Rejects(t *testing.T) {
	svc, _, _, _ := newTestService()

	token, err := svc.IssueToken(7, RoleAdmin)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	actor, err := svc.VerifyToken(token)
	if err != nil || !actor.IsAdmin() || actor.UserID != 7 {
		t.Fatalf("expected admin actor 7, got %+v err=%v", actor, err)
	}

	other := NewService(newFakeRepository(), newFakeOTPStore(), &fakeSMS{}, "other-secret", Options{})
	if _, err := other.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected signature mismatch rejected, got %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	expired, _ := svc.IssueToken(7, RoleUser)
	svc.now = time.Now
	if _, err := svc.VerifyToken(expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}

	if _, err := svc.VerifyToken(strings.Repeat("x", 20)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected garbage rejected, got %v", err)
	}
}

func TestGetOrCreateUserID_Idempotent(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	a, err := svc.GetOrCreateUserID(ctx, "Bob", "+966 50 000 0001")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := svc.GetOrCreateUserID(ctx, "Robert", "+966500000001")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if a != b {
		t.Fatalf("expected same id for same mobile, got %d and %d", a, b)
	}
	if _, err := svc.GetOrCreateUserID(ctx, "x", " - "); !errors.Is(err, ErrMobileRequired) {
		t.Fatalf("expected ErrMobileRequired, got %v", err)
	}
}

func TestNormalizeMobile(t *testing.T) {
	cases := map[string]string{
		" +1 (555) 010-0 ": "+15550100",
		"0500":             "0500",
		"5+5":              "55",
	}
	for in, want := range cases {
		if got := NormalizeMobile(in); got != want {
			t.Fatalf("NormalizeMobile(%q): expected %q, got %q", in, want, got)
		}
	}
}
