package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marketpulse/anomaly-radar/internal/auth"
)

type fakeFlusher struct{ dropped int }

func (f *fakeFlusher) Sweep() int { return f.dropped }

func TestFlushCooldownsRequiresBearerToken(t *testing.T) {
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	signer := auth.NewRequestSigner("", false)
	s := NewServer(":0", tokens, signer, &fakeFlusher{dropped: 3})

	req := httptest.NewRequest(http.MethodPost, "/admin/flush-cooldowns", nil)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFlushCooldownsSucceedsWithValidToken(t *testing.T) {
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	signer := auth.NewRequestSigner("", false)
	s := NewServer(":0", tokens, signer, &fakeFlusher{dropped: 2})

	token, err := tokens.Generate()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/admin/flush-cooldowns", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"dropped":2}`, rec.Body.String())
}

func TestFlushCooldownsRequiresValidSignatureWhenEnabled(t *testing.T) {
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	signer := auth.NewRequestSigner("hmac-secret", true)
	s := NewServer(":0", tokens, signer, &fakeFlusher{dropped: 1})

	token, err := tokens.Generate()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/admin/flush-cooldowns", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Signature", "not-the-right-signature")
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
