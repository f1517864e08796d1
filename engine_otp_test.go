package phoneauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/viznet/phoneauth/store"
)

const testPhone = "5511999990000"

func TestSendCodeDelivers(t *testing.T) {
	engine, env, cleanup := newTestEngine(t, testConfig())
	defer cleanup()

	res, err := engine.SendCode(context.Background(), testPhone, store.PurposeLogin)
	if err != nil {
		t.Fatalf("SendCode error: %v", err)
	}
	if res.UserExists {
		t.Fatal("expected unknown phone")
	}
	if res.ExpiresIn != 300 {
		t.Fatalf("unexpected ExpiresIn: %d", res.ExpiresIn)
	}

	code := env.notifier.lastCode(testPhone)
	if len(code) != 6 {
		t.Fatalf("expected 6-digit code, got %q", code)
	}

	rec, err := env.otps.FindValid(context.Background(), testPhone, store.PurposeLogin)
	if err != nil {
		t.Fatalf("FindValid error: %v", err)
	}
	if rec.Code != code {
		t.Fatal("stored code does not match delivered code")
	}
}

func TestSendCodeReportsExistingUser(t *testing.T) {
	engine, env, cleanup := newTestEngine(t, testConfig())
	defer cleanup()

	seedSubject(t, env, testPhone, "")

	res, err := engine.SendCode(context.Background(), testPhone, store.PurposeLogin)
	if err != nil {
		t.Fatalf("SendCode error: %v", err)
	}
	if !res.UserExists {
		t.Fatal("expected known phone to be reported")
	}
}

func TestSendCodeSupersedesPrevious(t *testing.T) {
	engine, env, cleanup := newTestEngine(t, testConfig())
	defer cleanup()

	ctx := context.Background()
	if _, err := engine.SendCode(ctx, testPhone, store.PurposeLogin); err != nil {
		t.Fatalf("first SendCode error: %v", err)
	}
	first := env.notifier.lastCode(testPhone)

	if _, err := engine.SendCode(ctx, testPhone, store.PurposeLogin); err != nil {
		t.Fatalf("second SendCode error: %v", err)
	}
	second := env.notifier.lastCode(testPhone)

	// only the newest code can verify
	if _, err := engine.VerifyCode(ctx, testPhone, first, store.PurposeLogin); err == nil && first != second {
		t.Fatal("expected superseded code to be rejected")
	}
	if _, err := engine.VerifyCode(ctx, testPhone, second, store.PurposeLogin); err != nil {
		t.Fatalf("newest code rejected: %v", err)
	}
}

func TestSendCodeRateLimited(t *testing.T) {
	engine, _, cleanup := newTestEngine(t, testConfig())
	defer cleanup()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := engine.SendCode(ctx, testPhone, store.PurposeLogin); err != nil {
			t.Fatalf("SendCode %d error: %v", i, err)
		}
	}

	_, err := engine.SendCode(ctx, testPhone, store.PurposeLogin)
	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Fatal("expected RateLimitedError to unwrap to ErrRateLimited")
	}
	if rl.RetryAfter <= 0 || rl.RetryAfter > 300 {
		t.Fatalf("unexpected RetryAfter: %d", rl.RetryAfter)
	}

	retry, err := engine.RetryAfter(ctx, testPhone, store.PurposeLogin)
	if err != nil {
		t.Fatalf("RetryAfter error: %v", err)
	}
	if retry != rl.RetryAfter {
		t.Fatalf("RetryAfter mismatch: %d vs %d", retry, rl.RetryAfter)
	}
}

func TestSendCodeWindowResets(t *testing.T) {
	engine, env, cleanup := newTestEngine(t, testConfig())
	defer cleanup()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := engine.SendCode(ctx, testPhone, store.PurposeLogin); err != nil {
			t.Fatalf("SendCode %d error: %v", i, err)
		}
	}

	env.mr.FastForward(301 * time.Second)

	if _, err := engine.SendCode(ctx, testPhone, store.PurposeLogin); err != nil {
		t.Fatalf("expected fresh window after expiry, got %v", err)
	}
}

func TestSendCodeSharedBudgetAcrossPurposes(t *testing.T) {
	engine, _, cleanup := newTestEngine(t, testConfig())
	defer cleanup()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := engine.SendCode(ctx, testPhone, store.PurposeLogin); err != nil {
			t.Fatalf("SendCode %d error: %v", i, err)
		}
	}

	// default scope counts every purpose against one phone budget
	if _, err := engine.SendCode(ctx, testPhone, store.PurposeRegister); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected shared budget exhaustion, got %v", err)
	}
}

func TestSendCodePerPurposeBudget(t *testing.T) {
	cfg := testConfig()
	cfg.OTP.RateLimitScope = ScopePhonePurpose
	engine, _, cleanup := newTestEngine(t, cfg)
	defer cleanup()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := engine.SendCode(ctx, testPhone, store.PurposeLogin); err != nil {
			t.Fatalf("SendCode %d error: %v", i, err)
		}
	}

	if _, err := engine.SendCode(ctx, testPhone, store.PurposeRegister); err != nil {
		t.Fatalf("expected independent purpose budget, got %v", err)
	}
}

func TestSendCodeSurvivesNotifierFailure(t *testing.T) {
	engine, env, cleanup := newTestEngine(t, testConfig())
	defer cleanup()

	env.notifier.fail = true

	if _, err := engine.SendCode(context.Background(), testPhone, store.PurposeLogin); err != nil {
		t.Fatalf("expected delivery failure to be swallowed, got %v", err)
	}

	if _, err := env.otps.FindValid(context.Background(), testPhone, store.PurposeLogin); err != nil {
		t.Fatalf("expected record despite delivery failure: %v", err)
	}
}

func TestSendCodeRejectsBadInput(t *testing.T) {
	engine, _, cleanup := newTestEngine(t, testConfig())
	defer cleanup()

	if _, err := engine.SendCode(context.Background(), "", store.PurposeLogin); !errors.Is(err, ErrInvalidPhone) {
		t.Fatalf("expected ErrInvalidPhone, got %v", err)
	}
	if _, err := engine.SendCode(context.Background(), testPhone, store.Purpose("bogus")); !errors.Is(err, ErrInvalidPurpose) {
		t.Fatalf("expected ErrInvalidPurpose, got %v", err)
	}
}

func TestVerifyCodeUnknownPhoneNeedsRegistration(t *testing.T) {
	engine, env, cleanup := newTestEngine(t, testConfig())
	defer cleanup()

	ctx := context.Background()
	if _, err := engine.SendCode(ctx, testPhone, store.PurposeLogin); err != nil {
		t.Fatalf("SendCode error: %v", err)
	}

	res, err := engine.VerifyCode(ctx, testPhone, env.notifier.lastCode(testPhone), store.PurposeLogin)
	if err != nil {
		t.Fatalf("VerifyCode error: %v", err)
	}
	if !res.NeedsRegistration {
		t.Fatal("expected NeedsRegistration for unknown phone")
	}
	if res.Pair != nil {
		t.Fatal("expected no token pair for unknown phone")
	}
	if res.VerifiedUntil.IsZero() {
		t.Fatal("expected a registration deadline")
	}

	if _, err := env.kv.Get(ctx, verifiedMarkerKey(testPhone)); err != nil {
		t.Fatalf("expected verified marker, got %v", err)
	}
}

func TestVerifyCodeKnownSubjectMintsPair(t *testing.T) {
	engine, env, cleanup := newTestEngine(t, testConfig())
	defer cleanup()

	ctx := context.Background()
	seeded := seedSubject(t, env, testPhone, "")

	if _, err := engine.SendCode(ctx, testPhone, store.PurposeLogin); err != nil {
		t.Fatalf("SendCode error: %v", err)
	}

	res, err := engine.VerifyCode(ctx, testPhone, env.notifier.lastCode(testPhone), store.PurposeLogin)
	if err != nil {
		t.Fatalf("VerifyCode error: %v", err)
	}
	if res.NeedsRegistration {
		t.Fatal("unexpected NeedsRegistration for known subject")
	}
	if res.Subject == nil || res.Subject.ID != seeded.ID {
		t.Fatal("wrong subject resolved")
	}
	if res.Pair == nil || res.Pair.AccessToken == "" || res.Pair.RefreshToken == "" {
		t.Fatal("expected a minted pair")
	}

	// the phone is stamped verified
	got, err := env.subjects.GetByID(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if got.PhoneVerifiedAt == nil {
		t.Fatal("expected PhoneVerifiedAt to be stamped")
	}

	// the access token authenticates
	auth, err := engine.Authenticate(ctx, res.Pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate error: %v", err)
	}
	if auth.Subject.ID != seeded.ID {
		t.Fatal("Authenticate resolved the wrong subject")
	}
}

func TestVerifyCodeWrongCodeCountsAttempts(t *testing.T) {
	engine, env, cleanup := newTestEngine(t, testConfig())
	defer cleanup()

	ctx := context.Background()
	if _, err := engine.SendCode(ctx, testPhone, store.PurposeLogin); err != nil {
		t.Fatalf("SendCode error: %v", err)
	}

	_, err := engine.VerifyCode(ctx, testPhone, "000000", store.PurposeLogin)
	var inv *InvalidCodeError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvalidCodeError, got %v", err)
	}
	if inv.AttemptsRemaining != 4 {
		t.Fatalf("expected 4 attempts remaining, got %d", inv.AttemptsRemaining)
	}
	if !errors.Is(err, ErrOTPInvalid) {
		t.Fatal("expected InvalidCodeError to unwrap to ErrOTPInvalid")
	}

	// correct code still verifies while attempts remain
	if _, err := engine.VerifyCode(ctx, testPhone, env.notifier.lastCode(testPhone), store.PurposeLogin); err != nil {
		t.Fatalf("correct code rejected: %v", err)
	}
}

func TestVerifyCodeLockoutIsPermanent(t *testing.T) {
	engine, env, cleanup := newTestEngine(t, testConfig())
	defer cleanup()

	ctx := context.Background()
	if _, err := engine.SendCode(ctx, testPhone, store.PurposeLogin); err != nil {
		t.Fatalf("SendCode error: %v", err)
	}

	for i := 0; i < 5; i++ {
		_, err := engine.VerifyCode(ctx, testPhone, "000000", store.PurposeLogin)
		var inv *InvalidCodeError
		if !errors.As(err, &inv) {
			t.Fatalf("attempt %d: expected InvalidCodeError, got %v", i, err)
		}
		if inv.AttemptsRemaining != 4-i {
			t.Fatalf("attempt %d: expected %d remaining, got %d", i, 4-i, inv.AttemptsRemaining)
		}
	}

	// the correct code no longer redeems
	_, err := engine.VerifyCode(ctx, testPhone, env.notifier.lastCode(testPhone), store.PurposeLogin)
	if !errors.Is(err, ErrOTPLockedOut) {
		t.Fatalf("expected ErrOTPLockedOut, got %v", err)
	}
}

func TestVerifyCodeExpired(t *testing.T) {
	engine, env, cleanup := newTestEngine(t, testConfig())
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC()
	rec := &store.OTPRecord{
		ID:        "otp-expired",
		Phone:     testPhone,
		Code:      "123456",
		Purpose:   store.PurposeLogin,
		State:     store.OTPValid,
		CreatedAt: now.Add(-10 * time.Minute),
		ExpiresAt: now.Add(-5 * time.Minute),
	}
	if err := env.otps.Create(ctx, rec); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	_, err := engine.VerifyCode(ctx, testPhone, "123456", store.PurposeLogin)
	var inv *InvalidCodeError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvalidCodeError for expired code, got %v", err)
	}
	if inv.AttemptsRemaining != 0 {
		t.Fatalf("expected 0 attempts remaining, got %d", inv.AttemptsRemaining)
	}
}

func TestVerifyCodeNoCode(t *testing.T) {
	engine, _, cleanup := newTestEngine(t, testConfig())
	defer cleanup()

	_, err := engine.VerifyCode(context.Background(), testPhone, "123456", store.PurposeLogin)
	var inv *InvalidCodeError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvalidCodeError, got %v", err)
	}
}

func TestVerifyCodeSingleUse(t *testing.T) {
	engine, env, cleanup := newTestEngine(t, testConfig())
	defer cleanup()

	ctx := context.Background()
	seedSubject(t, env, testPhone, "")

	if _, err := engine.SendCode(ctx, testPhone, store.PurposeLogin); err != nil {
		t.Fatalf("SendCode error: %v", err)
	}
	code := env.notifier.lastCode(testPhone)

	if _, err := engine.VerifyCode(ctx, testPhone, code, store.PurposeLogin); err != nil {
		t.Fatalf("first VerifyCode error: %v", err)
	}
	if _, err := engine.VerifyCode(ctx, testPhone, code, store.PurposeLogin); err == nil {
		t.Fatal("expected second verification of the same code to fail")
	}
}

func TestVerifyCodeClearsRateCounter(t *testing.T) {
	engine, env, cleanup := newTestEngine(t, testConfig())
	defer cleanup()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := engine.SendCode(ctx, testPhone, store.PurposeLogin); err != nil {
			t.Fatalf("SendCode %d error: %v", i, err)
		}
	}

	if _, err := engine.VerifyCode(ctx, testPhone, env.notifier.lastCode(testPhone), store.PurposeLogin); err != nil {
		t.Fatalf("VerifyCode error: %v", err)
	}

	// budget resets after success
	if _, err := engine.SendCode(ctx, testPhone, store.PurposeLogin); err != nil {
		t.Fatalf("expected fresh budget after success, got %v", err)
	}
}

func TestPurgeExpiredCodes(t *testing.T) {
	engine, env, cleanup := newTestEngine(t, testConfig())
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC()

	stale := &store.OTPRecord{
		ID:        "otp-stale",
		Phone:     testPhone,
		Code:      "111111",
		Purpose:   store.PurposeLogin,
		State:     store.OTPValid,
		CreatedAt: now.Add(-48 * time.Hour),
		ExpiresAt: now.Add(-47 * time.Hour),
	}
	if err := env.otps.Create(ctx, stale); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := engine.SendCode(ctx, "5511888880000", store.PurposeLogin); err != nil {
		t.Fatalf("SendCode error: %v", err)
	}

	n, err := engine.PurgeExpiredCodes(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PurgeExpiredCodes error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged record, got %d", n)
	}

	if _, err := env.otps.FindValid(ctx, "5511888880000", store.PurposeLogin); err != nil {
		t.Fatalf("live record must survive purge: %v", err)
	}
}
