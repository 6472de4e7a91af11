package auth

import (
	"context"
	"net/http"
	"strings"
)

// contextKey 避免与其他包的 context 键冲突。
type contextKey string

// UserContextKey 是请求上下文中存储用户信息的键
const UserContextKey contextKey = "user"

// APIKeyHeader 是携带 API Key 的 HTTP 头名称
const APIKeyHeader = "X-API-Key"

// UserContext 存储已认证用户的上下文信息。
type UserContext struct {
	// UserID 用户标识
	UserID string
	// Role 用户角色
	Role string
	// Method 认证方式，"jwt" 或 "apikey"
	Method string
}

// APIKeyValidator 定义 API Key 验证能力。
type APIKeyValidator interface {
	ValidateAPIKey(key string) (*UserContext, error)
}

// Middleware 是认证中间件，支持 JWT 会话与 API Key 两种方式。
type Middleware struct {
	jwt          *JWTManager
	keyValidator APIKeyValidator
	enabled      bool
}

// NewMiddleware 创建认证中间件。enabled 为 false 时放行所有请求。
func NewMiddleware(jwt *JWTManager, keyValidator APIKeyValidator, enabled bool) *Middleware {
	return &Middleware{
		jwt:          jwt,
		keyValidator: keyValidator,
		enabled:      enabled,
	}
}

// Authenticate 验证请求身份：先尝试 API Key，再尝试 Bearer 令牌。
// WebSocket 升级请求无法自定义头时，允许通过 access_token 查询参数携带令牌。
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled {
			next.ServeHTTP(w, r)
			return
		}

		if apiKey := r.Header.Get(APIKeyHeader); apiKey != "" && m.keyValidator != nil {
			if user, err := m.keyValidator.ValidateAPIKey(apiKey); err == nil {
				next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
				return
			}
		}

		token := ""
		if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		} else if q := r.URL.Query().Get("access_token"); q != "" {
			token = q
		}
		if token != "" && m.jwt != nil {
			if claims, err := m.jwt.Validate(token); err == nil {
				user := &UserContext{UserID: claims.UserID, Role: claims.Role, Method: "jwt"}
				next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"unauthorized"}`))
	})
}

func withUser(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

// GetUser 从请求上下文中提取已认证的用户信息，未认证时返回 nil。
func GetUser(ctx context.Context) *UserContext {
	if user, ok := ctx.Value(UserContextKey).(*UserContext); ok {
		return user
	}
	return nil
}
