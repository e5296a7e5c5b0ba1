package credential

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/api/transport"

	"imagen-relay-server/modules/common/config"
)

// AccessToken - 업스트림 호출용 bearer 토큰
type AccessToken struct {
	Value  string
	Expiry time.Time
}

// Provider - 토큰 발급 인터페이스
type Provider interface {
	FetchAccessToken(ctx context.Context) (AccessToken, error)
}

// CredentialError wraps any failure to obtain a token: key loading, the token
// exchange, or an unusable response.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string {
	return "failed to fetch access token: " + e.Err.Error()
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// TokenSourceFactory builds a fresh token source for one fetch.
type TokenSourceFactory func(ctx context.Context) (oauth2.TokenSource, error)

// GoogleProvider - 서비스 계정 키로 매 요청마다 토큰 발급 (캐시 없음)
type GoogleProvider struct {
	newSource TokenSourceFactory
	timeout   time.Duration
	logger    *zap.Logger
}

// NewGoogleProvider - 자격증명 출처 우선순위: inline JSON > key file > ADC
func NewGoogleProvider(cfg *config.Config, logger *zap.Logger) *GoogleProvider {
	opts := []option.ClientOption{option.WithScopes(cfg.Scope)}
	switch {
	case cfg.ServiceAccountKeyJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.ServiceAccountKeyJSON)))
	case cfg.ServiceAccountKeyPath != "":
		opts = append(opts, option.WithCredentialsFile(cfg.ServiceAccountKeyPath))
	}

	factory := func(ctx context.Context) (oauth2.TokenSource, error) {
		creds, err := transport.Creds(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load credentials: %w", err)
		}
		return creds.TokenSource, nil
	}

	logger.Info("🔑 Credential provider ready",
		zap.String("source", cfg.CredentialSource()),
		zap.String("scope", cfg.Scope))
	return NewProviderFromSource(factory, cfg.CredentialTimeout, logger)
}

func NewProviderFromSource(factory TokenSourceFactory, timeout time.Duration, logger *zap.Logger) *GoogleProvider {
	return &GoogleProvider{
		newSource: factory,
		timeout:   timeout,
		logger:    logger.With(zap.String("component", "credential")),
	}
}

// tokenResult - 토큰 교환 goroutine 결과
type tokenResult struct {
	tok *oauth2.Token
	err error
}

func (p *GoogleProvider) FetchAccessToken(ctx context.Context) (AccessToken, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
		// token endpoint 요청은 ctx 를 전달하지 않으므로 client 자체에 timeout 설정
		ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: p.timeout})
	}

	src, err := p.newSource(ctx)
	if err != nil {
		p.logger.Error("❌ Error fetching access token", zap.Error(err))
		return AccessToken{}, &CredentialError{Err: err}
	}

	done := make(chan tokenResult, 1)
	go func() {
		tok, err := src.Token()
		done <- tokenResult{tok: tok, err: err}
	}()

	var res tokenResult
	select {
	case <-ctx.Done():
		res.err = ctx.Err()
	case res = <-done:
	}

	if res.err != nil {
		p.logger.Error("❌ Error fetching access token", zap.Error(res.err))
		return AccessToken{}, &CredentialError{Err: res.err}
	}
	if res.tok == nil || res.tok.AccessToken == "" {
		err := errors.New("token response did not contain an access token")
		p.logger.Error("❌ Error fetching access token", zap.Error(err))
		return AccessToken{}, &CredentialError{Err: err}
	}

	p.logger.Debug("✅ Access token fetched", zap.Time("expiry", res.tok.Expiry))
	return AccessToken{Value: res.tok.AccessToken, Expiry: res.tok.Expiry}, nil
}
