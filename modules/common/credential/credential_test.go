package credential

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"imagen-relay-server/modules/common/config"
)

func staticFactory(tok *oauth2.Token) TokenSourceFactory {
	return func(ctx context.Context) (oauth2.TokenSource, error) {
		return oauth2.StaticTokenSource(tok), nil
	}
}

type failingSource struct{ err error }

func (s failingSource) Token() (*oauth2.Token, error) { return nil, s.err }

func TestGoogleProvider_FetchAccessToken(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	p := NewProviderFromSource(staticFactory(&oauth2.Token{AccessToken: "ya29.token", Expiry: expiry}), time.Second, zap.NewNop())

	tok, err := p.FetchAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ya29.token", tok.Value)
	assert.True(t, tok.Expiry.Equal(expiry))
}

func TestGoogleProvider_SourceError(t *testing.T) {
	p := NewProviderFromSource(func(ctx context.Context) (oauth2.TokenSource, error) {
		return nil, errors.New("key file unreadable")
	}, time.Second, zap.NewNop())

	_, err := p.FetchAccessToken(context.Background())
	var credErr *CredentialError
	require.ErrorAs(t, err, &credErr)
	assert.Contains(t, err.Error(), "key file unreadable")
}

func TestGoogleProvider_TokenError(t *testing.T) {
	p := NewProviderFromSource(func(ctx context.Context) (oauth2.TokenSource, error) {
		return failingSource{err: errors.New("invalid_grant")}, nil
	}, time.Second, zap.NewNop())

	_, err := p.FetchAccessToken(context.Background())
	var credErr *CredentialError
	require.ErrorAs(t, err, &credErr)
	assert.Equal(t, "failed to fetch access token: invalid_grant", err.Error())
}

func TestGoogleProvider_EmptyToken(t *testing.T) {
	p := NewProviderFromSource(staticFactory(&oauth2.Token{}), time.Second, zap.NewNop())

	_, err := p.FetchAccessToken(context.Background())
	var credErr *CredentialError
	assert.ErrorAs(t, err, &credErr)
}

func TestGoogleProvider_MissingKeyFile(t *testing.T) {
	cfg := &config.Config{
		Scope:                 config.CloudPlatformScope,
		ServiceAccountKeyPath: filepath.Join(t.TempDir(), "missing.json"),
		CredentialTimeout:     time.Second,
	}

	_, err := NewGoogleProvider(cfg, zap.NewNop()).FetchAccessToken(context.Background())
	var credErr *CredentialError
	assert.ErrorAs(t, err, &credErr)
}

func TestGoogleProvider_MalformedKeyJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sa.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	cfg := &config.Config{
		Scope:                 config.CloudPlatformScope,
		ServiceAccountKeyPath: path,
		CredentialTimeout:     time.Second,
	}

	_, err := NewGoogleProvider(cfg, zap.NewNop()).FetchAccessToken(context.Background())
	var credErr *CredentialError
	assert.ErrorAs(t, err, &credErr)
}

// serviceAccountJSON - token_uri 가 tokenURL 을 가리키는 서비스 계정 키
func serviceAccountJSON(t *testing.T, tokenURL string) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	data, err := json.Marshal(map[string]string{
		"type":           "service_account",
		"project_id":     "test-project",
		"private_key_id": "test-key",
		"private_key":    string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
		"client_email":   "relay@test-project.iam.gserviceaccount.com",
		"client_id":      "1234567890",
		"token_uri":      tokenURL,
	})
	require.NoError(t, err)
	return string(data)
}

// stalledTokenServer - release 가 닫히거나 연결이 끊길 때까지 응답하지 않음
func stalledTokenServer(t *testing.T) *httptest.Server {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"late","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	return srv
}

func TestGoogleProvider_ServiceAccountExchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:jwt-bearer", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"ya29.exchanged","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	cfg := &config.Config{
		Scope:                 config.CloudPlatformScope,
		ServiceAccountKeyJSON: serviceAccountJSON(t, srv.URL),
		CredentialTimeout:     5 * time.Second,
	}

	tok, err := NewGoogleProvider(cfg, zap.NewNop()).FetchAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ya29.exchanged", tok.Value)
	assert.True(t, tok.Expiry.After(time.Now()))
}

func TestGoogleProvider_TokenExchangeTimeout(t *testing.T) {
	srv := stalledTokenServer(t)
	cfg := &config.Config{
		Scope:                 config.CloudPlatformScope,
		ServiceAccountKeyJSON: serviceAccountJSON(t, srv.URL),
		CredentialTimeout:     200 * time.Millisecond,
	}

	start := time.Now()
	_, err := NewGoogleProvider(cfg, zap.NewNop()).FetchAccessToken(context.Background())
	elapsed := time.Since(start)

	var credErr *CredentialError
	require.ErrorAs(t, err, &credErr)
	assert.Less(t, elapsed, time.Second)
}

func TestGoogleProvider_CallerCancelStopsExchange(t *testing.T) {
	srv := stalledTokenServer(t)
	cfg := &config.Config{
		Scope:                 config.CloudPlatformScope,
		ServiceAccountKeyJSON: serviceAccountJSON(t, srv.URL),
		CredentialTimeout:     30 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	_, err := NewGoogleProvider(cfg, zap.NewNop()).FetchAccessToken(ctx)
	elapsed := time.Since(start)

	var credErr *CredentialError
	require.ErrorAs(t, err, &credErr)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, elapsed, time.Second)
}
