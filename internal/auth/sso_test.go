package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedAt(t *testing.T, iat time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		IssuedAt: jwt.NewNumericDate(iat),
	}).SignedString([]byte("test"))
	require.NoError(t, err)
	return tok
}

type stubFetcher struct {
	calls  atomic.Int32
	tokens chan string
	err    error
	delay  time.Duration
}

func (s *stubFetcher) FetchToken(context.Context) (string, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return "", s.err
	}
	return <-s.tokens, nil
}

func TestSSOFetcher_CertRealm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/secure/api/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "cert", r.PostForm.Get("realm"))
		_ = json.NewEncoder(w).Encode(map[string]string{"type": "signed-jwt", "data": "tok-1"})
	}))
	defer srv.Close()

	tok, err := NewCertFetcher(srv.URL+"/", srv.Client()).FetchToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
}

func TestSSOFetcher_PasswordRealm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/api/token", r.URL.Path)
		assert.Equal(t, "idp", r.URL.Query().Get("realm"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "svc", body["username"])
		assert.Equal(t, "pw", body["password"])
		_ = json.NewEncoder(w).Encode(map[string]string{"data": "tok-2"})
	}))
	defer srv.Close()

	tok, err := NewPasswordFetcher(srv.URL, "svc", "pw", srv.Client()).FetchToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
}

func TestSSOFetcher_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewCertFetcher(srv.URL, srv.Client()).FetchToken(context.Background())
	assert.ErrorContains(t, err, "status 502")
}

func TestTokenCache_LazyFetchOnce(t *testing.T) {
	f := &stubFetcher{tokens: make(chan string, 1)}
	f.tokens <- "first"
	cache := NewTokenCache(f)

	for i := 0; i < 3; i++ {
		tok, err := cache.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "first", tok)
	}
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestTokenCache_NewerTokenWins(t *testing.T) {
	now := time.Now()
	newer := signedAt(t, now)
	older := signedAt(t, now.Add(-time.Hour))

	cache := NewTokenCache(nil)
	assert.Equal(t, newer, cache.offer(newer))
	assert.Equal(t, newer, cache.offer(older), "older token must not replace a newer one")

	newest := signedAt(t, now.Add(time.Minute))
	assert.Equal(t, newest, cache.offer(newest))
}

func TestTokenCache_RefreshSkipsWhenAlreadyReplaced(t *testing.T) {
	f := &stubFetcher{tokens: make(chan string, 2)}
	f.tokens <- "a"
	f.tokens <- "b"
	cache := NewTokenCache(f)

	tok, err := cache.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a", tok)

	refreshed, err := cache.Refresh(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "b", refreshed)

	again, err := cache.Refresh(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "b", again)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestTokenCache_ConcurrentRefreshCollapses(t *testing.T) {
	f := &stubFetcher{tokens: make(chan string, 10), delay: 50 * time.Millisecond}
	for i := 0; i < 10; i++ {
		f.tokens <- "fresh"
	}
	cache := NewTokenCache(f)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := cache.Refresh(context.Background(), "")
			assert.NoError(t, err)
			assert.Equal(t, "fresh", tok)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, f.calls.Load(), int32(2))
}

func TestTokenCache_FetchError(t *testing.T) {
	cache := NewTokenCache(&stubFetcher{err: errors.New("sso down")})
	_, err := cache.Token(context.Background())
	assert.ErrorContains(t, err, "sso down")
}

func TestTokenCache_DoRetriesOnceOnUnauthorized(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "sso-jwt good" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	f := &stubFetcher{tokens: make(chan string, 2)}
	f.tokens <- "stale"
	f.tokens <- "good"
	cache := NewTokenCache(f)

	resp, err := cache.Do(context.Background(), srv.Client(), func(tok string) (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "sso-jwt "+tok)
		return req, nil
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, int32(2), hits.Load())
}

type gatedFetcher struct {
	calls   atomic.Int32
	release chan struct{}
	token   string
}

func (g *gatedFetcher) FetchToken(ctx context.Context) (string, error) {
	g.calls.Add(1)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-g.release:
		return g.token, nil
	}
}

func TestTokenCache_CallerDeadlineDoesNotFailOtherWaiters(t *testing.T) {
	fetcher := &gatedFetcher{release: make(chan struct{}), token: signedAt(t, time.Now())}
	cache := NewTokenCache(fetcher)

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.Refresh(short, "")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan string, 1)
	go func() {
		tok, err := cache.Refresh(context.Background(), "")
		assert.NoError(t, err)
		second <- tok
	}()

	require.ErrorIs(t, <-firstErr, context.DeadlineExceeded)
	close(fetcher.release)

	assert.Equal(t, fetcher.token, <-second)
	assert.Equal(t, int32(1), fetcher.calls.Load())
}
