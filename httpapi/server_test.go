package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	phoneauth "github.com/viznet/phoneauth"
	"github.com/viznet/phoneauth/kv"
	"github.com/viznet/phoneauth/store"
)

const testPhone = "5511999990000"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSubjects struct {
	mu   sync.Mutex
	byID map[string]*phoneauth.Subject
}

func newFakeSubjects() *fakeSubjects {
	return &fakeSubjects{byID: make(map[string]*phoneauth.Subject)}
}

func (f *fakeSubjects) GetByPhone(_ context.Context, phone string) (*phoneauth.Subject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.byID {
		if s.Phone == phone {
			clone := *s
			return &clone, nil
		}
	}
	return nil, phoneauth.ErrSubjectNotFound
}

func (f *fakeSubjects) GetByID(_ context.Context, id string) (*phoneauth.Subject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[id]
	if !ok {
		return nil, phoneauth.ErrSubjectNotFound
	}
	clone := *s
	return &clone, nil
}

func (f *fakeSubjects) Create(_ context.Context, in phoneauth.CreateSubjectInput) (*phoneauth.Subject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.byID {
		if s.Phone == in.Phone {
			return nil, phoneauth.ErrSubjectExists
		}
	}
	s := &phoneauth.Subject{
		ID:              uuid.NewString(),
		Phone:           in.Phone,
		Name:            in.Name,
		Email:           in.Email,
		PasswordHash:    in.PasswordHash,
		PhoneVerifiedAt: in.PhoneVerifiedAt,
	}
	f.byID[s.ID] = s
	clone := *s
	return &clone, nil
}

func (f *fakeSubjects) MarkPhoneVerified(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[id]
	if !ok {
		return phoneauth.ErrSubjectNotFound
	}
	s.PhoneVerifiedAt = &at
	return nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	codes map[string]string
}

func (n *recordingNotifier) SendCode(_ context.Context, phone, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.codes == nil {
		n.codes = make(map[string]string)
	}
	n.codes[phone] = code
	return nil
}

func (n *recordingNotifier) code(phone string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.codes[phone]
}

type serverEnv struct {
	mr       *miniredis.Miniredis
	notifier *recordingNotifier
	router   *gin.Engine
}

func newTestServer(t *testing.T) (*serverEnv, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := phoneauth.DefaultConfig()
	cfg.Token.RotationLockTTL = 250 * time.Millisecond
	cfg.Token.RotationLockWait = 50 * time.Millisecond

	notifier := &recordingNotifier{}
	engine, err := phoneauth.New().
		WithConfig(cfg).
		WithKV(kv.NewRedisStore(client, "test")).
		WithOTPStore(store.NewMemoryOTPStore()).
		WithTokenStore(store.NewMemoryTokenStore()).
		WithSubjectProvider(newFakeSubjects()).
		WithNotifier(notifier).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}

	srv := NewServer(engine)
	env := &serverEnv{mr: mr, notifier: notifier, router: srv.Router()}
	cleanup := func() {
		engine.Close()
		client.Close()
		mr.Close()
	}
	return env, cleanup
}

func (env *serverEnv) do(t *testing.T, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

// verifyAndRegister drives the full onboarding flow and returns the minted
// token pair body.
func verifyAndRegister(t *testing.T, env *serverEnv, phone string) map[string]any {
	t.Helper()

	w := env.do(t, http.MethodPost, "/auth/send-code", map[string]any{"phone": phone}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("send-code status = %d, body %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodPost, "/auth/verify-code", map[string]any{
		"phone": phone, "code": env.notifier.code(phone),
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("verify-code status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["needsRegistration"] != true {
		t.Fatalf("expected needsRegistration, got %v", body)
	}

	w = env.do(t, http.MethodPost, "/auth/register", map[string]any{
		"phone": phone, "name": "Ada", "email": "ada@example.com", "password": "correct-horse",
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", w.Code, w.Body.String())
	}
	return decodeBody(t, w)
}

func TestSendCodeReturnsBudgetHeaders(t *testing.T) {
	env, cleanup := newTestServer(t)
	defer cleanup()

	w := env.do(t, http.MethodPost, "/auth/send-code", map[string]any{"phone": "+55 (11) 99999-0000"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["success"] != true || body["userExists"] != false {
		t.Fatalf("unexpected body %v", body)
	}
	if body["expiresIn"].(float64) != 300 {
		t.Fatalf("expiresIn = %v, want 300", body["expiresIn"])
	}
	if w.Header().Get("X-RateLimit-Limit") != "3" {
		t.Fatalf("X-RateLimit-Limit = %q, want 3", w.Header().Get("X-RateLimit-Limit"))
	}
	if w.Header().Get("X-RateLimit-Remaining") != "2" {
		t.Fatalf("X-RateLimit-Remaining = %q, want 2", w.Header().Get("X-RateLimit-Remaining"))
	}
	if env.notifier.code(testPhone) == "" {
		t.Fatal("notifier never received a code for the normalized phone")
	}
}

func TestSendCodeRateLimited(t *testing.T) {
	env, cleanup := newTestServer(t)
	defer cleanup()

	for i := 0; i < 3; i++ {
		w := env.do(t, http.MethodPost, "/auth/send-code", map[string]any{"phone": testPhone}, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("send %d status = %d", i, w.Code)
		}
	}
	w := env.do(t, http.MethodPost, "/auth/send-code", map[string]any{"phone": testPhone}, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	body := decodeBody(t, w)
	if body["code"] != "RATE_LIMITED" {
		t.Fatalf("code = %v", body["code"])
	}
	if body["retryAfter"].(float64) <= 0 {
		t.Fatalf("retryAfter = %v, want positive", body["retryAfter"])
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
}

func TestSendCodeRejectsBadPhone(t *testing.T) {
	env, cleanup := newTestServer(t)
	defer cleanup()

	for _, phone := range []string{"", "123", "not-a-phone", "+55 11 abcde-0000"} {
		w := env.do(t, http.MethodPost, "/auth/send-code", map[string]any{"phone": phone}, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("phone %q: status = %d, want 400", phone, w.Code)
		}
	}
}

func TestVerifyCodeWrongCode(t *testing.T) {
	env, cleanup := newTestServer(t)
	defer cleanup()

	env.do(t, http.MethodPost, "/auth/send-code", map[string]any{"phone": testPhone}, nil)
	right := env.notifier.code(testPhone)
	wrong := "000000"
	if wrong == right {
		wrong = "000001"
	}

	w := env.do(t, http.MethodPost, "/auth/verify-code", map[string]any{"phone": testPhone, "code": wrong}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	body := decodeBody(t, w)
	if body["code"] != "INVALID_OTP" {
		t.Fatalf("code = %v", body["code"])
	}
	if body["attemptsRemaining"].(float64) != 4 {
		t.Fatalf("attemptsRemaining = %v, want 4", body["attemptsRemaining"])
	}
}

func TestVerifyCodeBadFormatNeverReachesEngine(t *testing.T) {
	env, cleanup := newTestServer(t)
	defer cleanup()

	env.do(t, http.MethodPost, "/auth/send-code", map[string]any{"phone": testPhone}, nil)

	// Malformed codes must not burn verification attempts.
	for _, code := range []string{"", "12345", "1234567", "12a456"} {
		w := env.do(t, http.MethodPost, "/auth/verify-code", map[string]any{"phone": testPhone, "code": code}, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("code %q: status = %d, want 400", code, w.Code)
		}
	}

	w := env.do(t, http.MethodPost, "/auth/verify-code", map[string]any{
		"phone": testPhone, "code": env.notifier.code(testPhone),
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d after format rejections, body %s", w.Code, w.Body.String())
	}
}

func TestRegistrationFlowMintsPair(t *testing.T) {
	env, cleanup := newTestServer(t)
	defer cleanup()

	body := verifyAndRegister(t, env, testPhone)
	if body["token"] == "" || body["refreshToken"] == "" {
		t.Fatalf("missing tokens in %v", body)
	}
	user := body["user"].(map[string]any)
	if user["phone"] != testPhone || user["name"] != "Ada" {
		t.Fatalf("unexpected user %v", user)
	}
	if user["phoneVerifiedAt"] == nil {
		t.Fatal("phoneVerifiedAt not stamped")
	}
}

func TestRegisterWithoutVerification(t *testing.T) {
	env, cleanup := newTestServer(t)
	defer cleanup()

	w := env.do(t, http.MethodPost, "/auth/register", map[string]any{
		"phone": testPhone, "name": "Ada", "password": "correct-horse",
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != "OTP_NOT_VERIFIED" {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestVerifyCodeKnownUserMintsPair(t *testing.T) {
	env, cleanup := newTestServer(t)
	defer cleanup()

	verifyAndRegister(t, env, testPhone)
	env.mr.FastForward(301 * time.Second) // reopen the send window

	w := env.do(t, http.MethodPost, "/auth/send-code", map[string]any{"phone": testPhone}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("send-code status = %d, body %s", w.Code, w.Body.String())
	}
	if body := decodeBody(t, w); body["userExists"] != true {
		t.Fatalf("userExists = %v, want true", body["userExists"])
	}

	w = env.do(t, http.MethodPost, "/auth/verify-code", map[string]any{
		"phone": testPhone, "code": env.notifier.code(testPhone),
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("verify-code status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["token"] == nil || body["needsRegistration"] != nil {
		t.Fatalf("expected token pair, got %v", body)
	}
}

func TestLogin(t *testing.T) {
	env, cleanup := newTestServer(t)
	defer cleanup()

	verifyAndRegister(t, env, testPhone)

	w := env.do(t, http.MethodPost, "/auth/login", map[string]any{
		"phone": testPhone, "password": "correct-horse",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if body := decodeBody(t, w); body["token"] == "" {
		t.Fatalf("missing token in %v", body)
	}

	w = env.do(t, http.MethodPost, "/auth/login", map[string]any{
		"phone": testPhone, "password": "wrong",
	}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != "INVALID_CREDENTIALS" {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestRefreshRotates(t *testing.T) {
	env, cleanup := newTestServer(t)
	defer cleanup()

	pair := verifyAndRegister(t, env, testPhone)

	w := env.do(t, http.MethodPost, "/auth/refresh", map[string]any{
		"refreshToken": pair["refreshToken"],
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	next := decodeBody(t, w)
	if next["refreshToken"] == pair["refreshToken"] {
		t.Fatal("refresh token was not rotated")
	}

	// After the grace window the old plaintext is dead.
	env.mr.FastForward(21 * time.Second)
	w = env.do(t, http.MethodPost, "/auth/refresh", map[string]any{
		"refreshToken": pair["refreshToken"],
	}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("replay status = %d, want 401", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != "INVALID_REFRESH_TOKEN" {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestRefreshRejectsGarbage(t *testing.T) {
	env, cleanup := newTestServer(t)
	defer cleanup()

	w := env.do(t, http.MethodPost, "/auth/refresh", map[string]any{"refreshToken": "junk"}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	w = env.do(t, http.MethodPost, "/auth/refresh", map[string]any{}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty token status = %d, want 400", w.Code)
	}
}

func TestMeAndLogout(t *testing.T) {
	env, cleanup := newTestServer(t)
	defer cleanup()

	pair := verifyAndRegister(t, env, testPhone)
	bearer := map[string]string{"Authorization": fmt.Sprintf("Bearer %s", pair["token"])}

	w := env.do(t, http.MethodGet, "/auth/me", nil, bearer)
	if w.Code != http.StatusOK {
		t.Fatalf("me status = %d, body %s", w.Code, w.Body.String())
	}
	data := decodeBody(t, w)["data"].(map[string]any)
	if data["user"].(map[string]any)["phone"] != testPhone {
		t.Fatalf("unexpected user %v", data)
	}

	w = env.do(t, http.MethodPost, "/auth/logout", nil, bearer)
	if w.Code != http.StatusOK {
		t.Fatalf("logout status = %d, body %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/auth/me", nil, bearer)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("me after logout status = %d, want 401", w.Code)
	}
}

func TestLogoutAllDevices(t *testing.T) {
	env, cleanup := newTestServer(t)
	defer cleanup()

	pair := verifyAndRegister(t, env, testPhone)

	w := env.do(t, http.MethodPost, "/auth/login", map[string]any{
		"phone": testPhone, "password": "correct-horse",
	}, nil)
	second := decodeBody(t, w)

	bearer := map[string]string{"Authorization": fmt.Sprintf("Bearer %s", pair["token"])}
	w = env.do(t, http.MethodPost, "/auth/logout", map[string]any{"allDevices": true}, bearer)
	if w.Code != http.StatusOK {
		t.Fatalf("logout status = %d, body %s", w.Code, w.Body.String())
	}

	for _, tok := range []any{pair["token"], second["token"]} {
		w = env.do(t, http.MethodGet, "/auth/me", nil, map[string]string{
			"Authorization": fmt.Sprintf("Bearer %s", tok),
		})
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("token %v still valid after logout all", tok)
		}
	}
}

func TestMeRequiresBearer(t *testing.T) {
	env, cleanup := newTestServer(t)
	defer cleanup()

	for _, header := range []map[string]string{
		nil,
		{"Authorization": "Basic abc"},
		{"Authorization": "Bearer not-a-token"},
	} {
		w := env.do(t, http.MethodGet, "/auth/me", nil, header)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("header %v: status = %d, want 401", header, w.Code)
		}
	}
}
