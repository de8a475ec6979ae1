package rpc

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"

	"github.com/lcrostarosa/safecheck/internal/logging"
)

// loggingInterceptor logs RPC calls
type loggingInterceptor struct{}

func newLoggingInterceptor() connect.Interceptor {
	return &loggingInterceptor{}
}

func (i *loggingInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		fields := []interface{}{
			"procedure", req.Spec().Procedure,
			"elapsed", time.Since(start),
		}
		if err != nil {
			logging.S().Debugw("RPC failed", append(fields, "code", connect.CodeOf(err).String(), "error", err)...)
		} else {
			logging.S().Debugw("RPC call", fields...)
		}
		return resp, err
	}
}

func (i *loggingInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next // No streaming RPCs in our API
}

func (i *loggingInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next // No streaming RPCs in our API
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// APIKey is the required API key. Empty disables authentication, which
	// is only sensible when listening on loopback.
	APIKey string
}

// authInterceptor validates API key authentication
type authInterceptor struct {
	config AuthConfig
}

func newAuthInterceptor(config AuthConfig) connect.Interceptor {
	return &authInterceptor{config: config}
}

func (i *authInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if i.config.APIKey == "" {
			return next(ctx, req)
		}
		if !i.authorized(apiKeyFrom(req.Header().Get("X-API-Key"), req.Header().Get("Authorization"))) {
			return nil, connect.NewError(connect.CodeUnauthenticated, nil)
		}
		return next(ctx, req)
	}
}

func (i *authInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next // No streaming RPCs in our API
}

func (i *authInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next // No streaming RPCs in our API
}

// Authorized checks an HTTP request against the configured key. The
// countdown feed uses it for its WebSocket upgrade.
func (c AuthConfig) Authorized(header http.Header) bool {
	if c.APIKey == "" {
		return true
	}
	return (&authInterceptor{config: c}).authorized(apiKeyFrom(header.Get("X-API-Key"), header.Get("Authorization")))
}

func (i *authInterceptor) authorized(apiKey string) bool {
	// Constant-time comparison to prevent timing attacks
	return subtle.ConstantTimeCompare([]byte(apiKey), []byte(i.config.APIKey)) == 1
}

func apiKeyFrom(xAPIKey, authorization string) string {
	if xAPIKey != "" {
		return xAPIKey
	}
	if strings.HasPrefix(authorization, "Bearer ") {
		return strings.TrimPrefix(authorization, "Bearer ")
	}
	return ""
}
