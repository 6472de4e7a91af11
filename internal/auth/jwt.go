// Package auth 提供面板的身份认证功能。
// 实现了基于 JWT 的面板会话与基于静态 API Key 的
// 非交互客户端（CLI、MCP）双重认证机制。
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken 表示令牌无效、签名错误或已过期
var ErrInvalidToken = errors.New("invalid token")

// Claims 定义面板会话令牌中的声明。
type Claims struct {
	// UserID 会话归属的用户标识
	UserID string `json:"user_id"`
	// Role 用户角色，用于权限控制
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTManager 负责会话令牌的签发和验证。
type JWTManager struct {
	secret     []byte
	expiration time.Duration
}

// NewJWTManager 创建 JWT 管理器。
func NewJWTManager(secret string, expiration time.Duration) *JWTManager {
	return &JWTManager{
		secret:     []byte(secret),
		expiration: expiration,
	}
}

// Generate 为指定用户签发一个会话令牌。
func (m *JWTManager) Generate(userID, role string) (string, error) {
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			// ID 让单个令牌可被日志关联和撤销
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.expiration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Validate 验证令牌并提取声明。
func (m *JWTManager) Validate(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
