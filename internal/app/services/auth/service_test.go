package auth

import (
	"context"
	"testing"
	"time"

	"github.com/saficlean/marketplace/internal/app/domain/user"
	"github.com/saficlean/marketplace/internal/app/storage/memory"
	apperr "github.com/saficlean/marketplace/internal/errors"
)

func newTestService() *Service {
	return New(memory.New(), Config{SecretKey: "test-secret"}, nil)
}

func register(t *testing.T, svc *Service, email string, typ user.Type) user.User {
	t.Helper()
	in := RegisterInput{
		Email:    email,
		Password: "password123",
		FullName: "Test User",
		Type:     typ,
	}
	if typ == user.TypeCleaner {
		in.HourlyRate = 400
	}
	u, err := svc.Register(context.Background(), in)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return u
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	cases := []struct {
		name string
		in   RegisterInput
	}{
		{"bad email", RegisterInput{Email: "nope", Password: "password123", Type: user.TypeClient}},
		{"short password", RegisterInput{Email: "a@b.com", Password: "short", Type: user.TypeClient}},
		{"admin self-register", RegisterInput{Email: "a@b.com", Password: "password123", Type: user.TypeAdmin}},
		{"cleaner without rate", RegisterInput{Email: "a@b.com", Password: "password123", Type: user.TypeCleaner}},
		{"bad phone", RegisterInput{Email: "a@b.com", Password: "password123", Type: user.TypeClient, PhoneNumber: "12345"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tc.in)
			svcErr := apperr.GetServiceError(err)
			if svcErr == nil || svcErr.Code != apperr.CodeValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := newTestService()
	register(t, svc, "jane@example.com", user.TypeClient)

	_, err := svc.Register(context.Background(), RegisterInput{
		Email:    "JANE@example.com",
		Password: "password123",
		Type:     user.TypeClient,
	})
	svcErr := apperr.GetServiceError(err)
	if svcErr == nil || svcErr.Code != apperr.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"0712345678":    "254712345678",
		"+254712345678": "254712345678",
		"254712345678":  "254712345678",
		"0112345678":    "254112345678",
	}
	for input, want := range cases {
		got, err := NormalizePhone(input)
		if err != nil {
			t.Fatalf("NormalizePhone(%q): %v", input, err)
		}
		if got != want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", input, got, want)
		}
	}
	if _, err := NormalizePhone("555-1234"); err == nil {
		t.Fatal("expected error for non-Kenyan number")
	}
}

func TestLoginAndVerify(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	registered := register(t, svc, "jane@example.com", user.TypeCleaner)

	pair, loggedIn, err := svc.Login(ctx, "jane@example.com", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}
	if loggedIn.LastLogin.IsZero() {
		t.Fatal("expected last login recorded")
	}

	claims, err := svc.VerifyAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}
	if claims.UserID != registered.ID || claims.Role != string(user.TypeCleaner) {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	// A refresh token must not pass access verification.
	if _, err := svc.VerifyAccessToken(pair.RefreshToken); err == nil {
		t.Fatal("expected refresh token to be rejected as access token")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc := newTestService()
	register(t, svc, "jane@example.com", user.TypeClient)

	_, _, err := svc.Login(context.Background(), "jane@example.com", "wrong-password")
	svcErr := apperr.GetServiceError(err)
	if svcErr == nil || svcErr.Code != apperr.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestRefreshRotatesPair(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	register(t, svc, "jane@example.com", user.TypeClient)

	pair, _, err := svc.Login(ctx, "jane@example.com", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	fresh, err := svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := svc.VerifyAccessToken(fresh.AccessToken); err != nil {
		t.Fatalf("verify refreshed access token: %v", err)
	}

	// Access tokens are not refresh tokens.
	if _, err := svc.Refresh(ctx, pair.AccessToken); err == nil {
		t.Fatal("expected access token to be rejected for refresh")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	register(t, svc, "jane@example.com", user.TypeClient)

	issued := time.Now()
	svc.now = func() time.Time { return issued }
	pair, _, err := svc.Login(ctx, "jane@example.com", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	svc.now = func() time.Time { return issued.Add(31 * time.Minute) }
	if _, err := svc.VerifyAccessToken(pair.AccessToken); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestUpdateProfile(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	u := register(t, svc, "cleaner@x.com", user.TypeCleaner)

	updated, err := svc.UpdateProfile(ctx, u.ID, UpdateProfileInput{
		FullName:    "New Name",
		PhoneNumber: "0712345678",
		Bio:         "Ten years of experience",
		HourlyRate:  450,
	})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if updated.FullName != "New Name" || updated.HourlyRate != 450 {
		t.Fatalf("changes not applied: %+v", updated)
	}
	if updated.PhoneNumber != "254712345678" {
		t.Fatalf("phone not normalized: %q", updated.PhoneNumber)
	}

	// A client cannot take an hourly rate.
	c := register(t, svc, "client@x.com", user.TypeClient)
	_, err = svc.UpdateProfile(ctx, c.ID, UpdateProfileInput{HourlyRate: 100})
	if svcErr := apperr.GetServiceError(err); svcErr == nil || svcErr.Code != apperr.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpdateProfileRejectsTakenPhone(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	a := register(t, svc, "a@x.com", user.TypeClient)
	b := register(t, svc, "b@x.com", user.TypeClient)

	if _, err := svc.UpdateProfile(ctx, a.ID, UpdateProfileInput{PhoneNumber: "0712345678"}); err != nil {
		t.Fatalf("UpdateProfile a: %v", err)
	}
	_, err := svc.UpdateProfile(ctx, b.ID, UpdateProfileInput{PhoneNumber: "0712345678"})
	if svcErr := apperr.GetServiceError(err); svcErr == nil || svcErr.Code != apperr.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestVerifyCleaner(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	cl := register(t, svc, "cleaner@x.com", user.TypeCleaner)

	verified, err := svc.VerifyCleaner(ctx, cl.ID)
	if err != nil {
		t.Fatalf("VerifyCleaner: %v", err)
	}
	if !verified.Verified {
		t.Fatal("cleaner should be verified")
	}

	c := register(t, svc, "client@x.com", user.TypeClient)
	if _, err := svc.VerifyCleaner(ctx, c.ID); err == nil {
		t.Fatal("expected error verifying a client")
	}
}

func TestEmailVerificationFlow(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	u := register(t, svc, "cleaner@x.com", user.TypeCleaner)

	token, err := svc.IssueEmailVerification(ctx, u.ID)
	if err != nil {
		t.Fatalf("IssueEmailVerification: %v", err)
	}
	confirmed, err := svc.ConfirmEmail(ctx, token)
	if err != nil {
		t.Fatalf("ConfirmEmail: %v", err)
	}
	if !confirmed.Verified {
		t.Fatal("account should be verified after confirmation")
	}

	// An access token is not an email-verification token.
	pair, _, err := svc.Login(ctx, "cleaner@x.com", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := svc.ConfirmEmail(ctx, pair.AccessToken); err == nil {
		t.Fatal("access token must not confirm email")
	}
}

func TestPasswordResetFlow(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	register(t, svc, "client@x.com", user.TypeClient)

	u, token, err := svc.IssuePasswordReset(ctx, "client@x.com")
	if err != nil {
		t.Fatalf("IssuePasswordReset: %v", err)
	}
	if u.Email != "client@x.com" {
		t.Fatalf("unexpected account %q", u.Email)
	}
	if err := svc.ResetPassword(ctx, token, "newpassword456"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	if _, _, err := svc.Login(ctx, "client@x.com", "password123"); err == nil {
		t.Fatal("old password must stop working")
	}
	if _, _, err := svc.Login(ctx, "client@x.com", "newpassword456"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}

	if err := svc.ResetPassword(ctx, token, "short"); err == nil {
		t.Fatal("expected validation error for short password")
	}
	if _, _, err := svc.IssuePasswordReset(ctx, "unknown@x.com"); err == nil {
		t.Fatal("expected not found for unknown email")
	}
}
