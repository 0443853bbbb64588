// Package auth 校验会话流与通知流使用的 bearer 凭证。
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Identity 是凭证解析出的调用方身份。
type Identity struct {
	UserID      string
	DisplayName string
}

// Claims 是签发的 JWT 载荷。
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Verifier 使用 HS256 校验与签发凭证。secret 为空时进入开发模式：
// 凭证本身被视为用户 ID，便于本地调试。
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewVerifier 创建校验器。
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// DevMode 表示是否未配置密钥。
func (v *Verifier) DevMode() bool { return len(v.secret) == 0 }

// Verify 解析凭证并返回身份。
func (v *Verifier) Verify(token string) (Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	if v.DevMode() {
		user, name, _ := strings.Cut(token, ":")
		if name == "" {
			name = user
		}
		return Identity{UserID: user, DisplayName: name}, nil
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: subject is empty", ErrInvalidToken)
	}

	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return Identity{UserID: claims.Subject, DisplayName: name}, nil
}

// Issue 为用户签发有效期为 ttl 的凭证。开发模式下返回 "user:name" 形式的明文凭证。
func (v *Verifier) Issue(userID, displayName string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	if v.DevMode() {
		if displayName == "" {
			return userID, nil
		}
		return userID + ":" + displayName, nil
	}

	now := v.now()
	claims := Claims{
		Name: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// TokenFromRequest 读取凭证：优先 ?token=，其次 Authorization 头。
// 浏览器的 WebSocket 无法设置请求头，所以查询参数优先。
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	return r.Header.Get("Authorization")
}
