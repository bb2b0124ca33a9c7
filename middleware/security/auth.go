package security

import (
	"context"
	"strings"

	"moodchat/global"
	"moodchat/module/session"
	"moodchat/tools/errs"
	"moodchat/tools/security"

	"github.com/gin-gonic/gin"
)

// context key，后续 handler 统一用 SessionFrom 读取
const (
	PPCtxAuthKey    = "authorization" // string，原始 token
	PPCtxSessionKey = "session"       // *session.Session
)

// Sessions resolves a session id carried by an access token.
type Sessions interface {
	Get(ctx context.Context, id string) (*session.Session, error)
}

type Options struct {
	Token      security.Options
	HeaderName string // 默认 "authorization"
	QueryName  string // websocket 握手无法带头时使用，默认 "token"
}

func DefaultOptions(tok security.Options) *Options {
	return &Options{Token: tok, HeaderName: PPCtxAuthKey, QueryName: "token"}
}

// TokenFrom 依次读取自定义头、Authorization: Bearer、query 参数
func TokenFrom(c *gin.Context, opts *Options) string {
	if t := strings.TrimSpace(c.GetHeader(opts.HeaderName)); t != "" {
		if strings.HasPrefix(strings.ToLower(t), "bearer ") {
			return strings.TrimSpace(t[len("bearer "):])
		}
		return t
	}
	if opts.QueryName != "" {
		return strings.TrimSpace(c.Query(opts.QueryName))
	}
	return ""
}

// Authenticate 校验 access token 并把 session 放进 context
func Authenticate(c *gin.Context, opts *Options, sessions Sessions) (*session.Session, error) {
	token := TokenFrom(c, opts)
	if token == "" {
		return nil, errs.ErrTokenInvalid.WrapMsg("missing token")
	}
	claims, err := security.Verify(opts.Token, token)
	if err != nil {
		return nil, err
	}
	if claims.SessionID == "" {
		return nil, errs.ErrTokenInvalid.WrapMsg("not an access token")
	}
	s, err := sessions.Get(c.Request.Context(), claims.SessionID)
	if err != nil {
		return nil, err
	}
	if s.Profile.ID != claims.Subject {
		return nil, errs.ErrTokenInvalid.WrapMsg("session subject mismatch")
	}
	c.Set(PPCtxAuthKey, token)
	c.Set(PPCtxSessionKey, s)
	return s, nil
}

// Middleware 需要登录的路由挂载
func Middleware(opts *Options, sessions Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := Authenticate(c, opts, sessions); err != nil {
			c.AbortWithStatusJSON(errs.HTTPStatus(err), global.FailErr(err))
			return
		}
		c.Next()
	}
}

// SessionFrom 读取 Middleware 写入的 session；未登录返回 nil
func SessionFrom(c *gin.Context) *session.Session {
	v, ok := c.Get(PPCtxSessionKey)
	if !ok {
		return nil
	}
	s, _ := v.(*session.Session)
	return s
}
