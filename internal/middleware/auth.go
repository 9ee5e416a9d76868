package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
)

// UserRefKey 是 Gin 上下文中保存已认证用户标识的键
const UserRefKey = "user_ref"

// ErrMissingAuthHeader is returned by extractToken when no Authorization header is sent.
var ErrMissingAuthHeader = errors.New("missing Authorization header")

// OptionalAuth 返回一个 Gin 中间件，从 Bearer JWT 中解析调用者身份。
// 没有携带 token 的请求以匿名身份放行；token 校验失败返回 401。
// secret 为空时不处理 token。
func OptionalAuth(jwtSecret string) gin.HandlerFunc {
	if jwtSecret == "" {
		logrus.Warn("JWT_SECRET not set, bearer tokens will be ignored")
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		tokenStr, err := extractToken(c)
		if err != nil {
			if errors.Is(err, ErrMissingAuthHeader) {
				c.Next()
				return
			}
			logrus.Warnf("Auth middleware: Malformed Authorization header: %v", err)
			abortUnauthorized(c, "Invalid token format")
			return
		}

		claims, err := validateToken(tokenStr, jwtSecret)
		if err != nil {
			logCtx := logrus.WithError(err)
			logCtx.Warn("Auth middleware: Invalid token")
			var validationError *jwt.ValidationError
			if errors.As(err, &validationError) {
				if validationError.Errors&jwt.ValidationErrorExpired != 0 {
					logCtx.Warn("Reason: Token is expired")
				}
				if validationError.Errors&jwt.ValidationErrorSignatureInvalid != 0 {
					logCtx.Warn("Reason: Token signature is invalid")
				}
			}
			abortUnauthorized(c, "Invalid or expired token")
			return
		}

		userRef, ok := userRefFromClaims(claims)
		if !ok {
			logrus.Warn("Auth middleware: token carries neither 'sub' nor 'user_id'")
			abortUnauthorized(c, "Token has no user identity")
			return
		}

		c.Set(UserRefKey, userRef)
		logrus.WithField("user_ref", userRef).Debug("Auth middleware: User authenticated via JWT")
		c.Next()
	}
}

// UserRef 从上下文中取出已认证的用户标识
func UserRef(c *gin.Context) (string, bool) {
	v, ok := c.Get(UserRefKey)
	if !ok {
		return "", false
	}
	ref, ok := v.(string)
	return ref, ok && ref != ""
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": message, "kind": "unauthorized"})
}

func extractToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", ErrMissingAuthHeader
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", jwt.ErrTokenMalformed
	}
	return parts[1], nil
}

func validateToken(tokenStr string, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token or claims type")
}

// userRefFromClaims 优先使用 "sub"，其次是字符串或数字形式的 "user_id"
func userRefFromClaims(claims jwt.MapClaims) (string, bool) {
	if sub, ok := claims["sub"].(string); ok && strings.TrimSpace(sub) != "" {
		return strings.TrimSpace(sub), true
	}
	switch v := claims["user_id"].(type) {
	case string:
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	case float64:
		if v > 0 && v == float64(uint64(v)) {
			return strconv.FormatUint(uint64(v), 10), true
		}
	}
	return "", false
}
