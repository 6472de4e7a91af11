package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
)

// ErrAPIKeyNotFound 表示请求携带的 API Key 不在配置的密钥集合中
var ErrAPIKeyNotFound = errors.New("api key not found")

// GenerateAPIKey 生成一个新的面板 API Key。
// 返回原始密钥（以 "lm_" 为前缀，发给客户端）和其
// SHA-256 哈希（用于配置存储，不保存原始密钥）。
func GenerateAPIKey() (string, string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", err
	}
	key := "lm_" + hex.EncodeToString(bytes)
	return key, HashAPIKey(key), nil
}

// HashAPIKey 计算 API Key 的 SHA-256 哈希（十六进制编码）。
func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// StaticKeyValidator 按配置的静态密钥集合验证 API Key。
// 集合里既可以放原始密钥也可以放其哈希，验证时统一按哈希比较。
type StaticKeyValidator struct {
	hashes []string
}

// NewStaticKeyValidator 从配置的密钥列表构建验证器。
func NewStaticKeyValidator(keys []string) *StaticKeyValidator {
	hashes := make([]string, 0, len(keys))
	for _, k := range keys {
		if len(k) == 64 && isHex(k) {
			hashes = append(hashes, k)
		} else {
			hashes = append(hashes, HashAPIKey(k))
		}
	}
	return &StaticKeyValidator{hashes: hashes}
}

// ValidateAPIKey 验证给定的 API Key，成功时返回非交互客户端的用户上下文。
func (v *StaticKeyValidator) ValidateAPIKey(key string) (*UserContext, error) {
	hash := HashAPIKey(key)
	for _, h := range v.hashes {
		if subtle.ConstantTimeCompare([]byte(hash), []byte(h)) == 1 {
			return &UserContext{UserID: "api-key", Role: "operator", Method: "apikey"}, nil
		}
	}
	return nil, ErrAPIKeyNotFound
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}
