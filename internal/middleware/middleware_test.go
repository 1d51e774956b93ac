package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/conversation-actors/internal/model"
	"github.com/capitalize-ai/conversation-actors/pkg/logger"
)

const secret = "test-secret"

func signed(t *testing.T, key string, method jwt.SigningMethod, claims jwt.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func ownerEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("owner=" + GetOwnerID(r.Context())))
	})
}

func TestAuth(t *testing.T) {
	valid := signed(t, secret, jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	expired := signed(t, secret, jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	wrongKey := signed(t, "other", jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "alice"})
	noSubject := signed(t, secret, jwt.SigningMethodHS256, jwt.RegisteredClaims{})

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{name: "anonymous", wantStatus: http.StatusOK, wantBody: "owner="},
		{name: "valid token", header: "Bearer " + valid, wantStatus: http.StatusOK, wantBody: "owner=alice"},
		{name: "lowercase scheme", header: "bearer " + valid, wantStatus: http.StatusOK, wantBody: "owner=alice"},
		{name: "expired", header: "Bearer " + expired, wantStatus: http.StatusUnauthorized},
		{name: "wrong key", header: "Bearer " + wrongKey, wantStatus: http.StatusUnauthorized},
		{name: "no subject", header: "Bearer " + noSubject, wantStatus: http.StatusUnauthorized},
		{name: "basic auth", header: "Basic dXNlcjpwYXNz", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			Auth(secret)(ownerEcho()).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestLogging_CorrelationID(t *testing.T) {
	var seen string
	h := Logging(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Correlation-ID"))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestRateLimit_PerOwner(t *testing.T) {
	h := Auth(secret)(RateLimit(2, time.Minute)(ownerEcho()))
	alice := "Bearer " + signed(t, secret, jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "alice"})
	bob := "Bearer " + signed(t, secret, jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "bob"})

	do := func(auth string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", auth)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do(alice))
	assert.Equal(t, http.StatusOK, do(alice))
	assert.Equal(t, http.StatusTooManyRequests, do(alice))
	assert.Equal(t, http.StatusOK, do(bob))
}

func TestValidateSubmitRequest(t *testing.T) {
	png := model.Attachment{ID: "f1", DisplayName: "a.png", MediaType: "image/png"}

	assert.NoError(t, ValidateSubmitRequest(&model.SubmitMessageRequest{Text: "hi"}))
	assert.NoError(t, ValidateSubmitRequest(&model.SubmitMessageRequest{Attachments: []model.Attachment{png}}))
	assert.Error(t, ValidateSubmitRequest(&model.SubmitMessageRequest{Text: "   "}))
	assert.Error(t, ValidateSubmitRequest(&model.SubmitMessageRequest{Text: strings.Repeat("a", maxContentLength+1)}))
	assert.Error(t, ValidateSubmitRequest(&model.SubmitMessageRequest{Text: "\xff"}))
	assert.Error(t, ValidateSubmitRequest(&model.SubmitMessageRequest{Text: "hi", Attachments: []model.Attachment{{DisplayName: "a"}}}))
	assert.Error(t, ValidateSubmitRequest(&model.SubmitMessageRequest{Text: "hi", Attachments: []model.Attachment{{ID: "f1", MediaType: "png"}}}))

	many := make([]model.Attachment, maxAttachments+1)
	for i := range many {
		many[i] = png
	}
	assert.Error(t, ValidateSubmitRequest(&model.SubmitMessageRequest{Attachments: many}))
}

func TestValidateConversationID(t *testing.T) {
	assert.NoError(t, ValidateConversationID("0190a6d4-3c1b-7f3e-9a2b-5d6e7f8a9b0c"))
	assert.Error(t, ValidateConversationID("../../etc"))
	assert.Error(t, ValidateConversationID(""))
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(ownerEcho()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
