// Package api exposes the services over HTTP (gin) with the {code, msg, data}
// envelope. Handlers return errors; wrap maps them onto status and body.
package api

import (
	"context"
	"net/http"
	"strconv"

	"moodchat/global"
	"moodchat/logger"
	"moodchat/middleware"
	midsec "moodchat/middleware/security"
	"moodchat/module/identity"
	"moodchat/module/message"
	"moodchat/module/room"
	"moodchat/module/session"
	"moodchat/module/social"
	"moodchat/tools/errs"
	"moodchat/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Gateway is the websocket endpoint mounted at /ws.
type Gateway interface {
	Serve(c *gin.Context)
}

type Server struct {
	Identity *identity.Service
	Social   *social.Service
	Rooms    *room.Service
	Messages *message.Service
	Sessions *session.Manager

	Access   security.Options // 签发/校验 access token
	Provider security.Options // 校验外部账号 token

	SearchLimit  int
	AllowOrigins []string
	Gateway      Gateway
	Health       func(ctx context.Context) error
}

type handlerFunc func(c *gin.Context) error

// wrap 统一错误出口：CodeError 映射 HTTP 状态，未知错误记日志并返回 500
func wrap(h handlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := h(c)
		if err == nil {
			return
		}
		status := errs.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			logger.Error("api error", zap.String("path", c.FullPath()), zap.Error(err))
		}
		_ = c.Error(err)
		c.JSON(status, global.FailErr(err))
	}
}

func ok(c *gin.Context, data any) error {
	c.JSON(http.StatusOK, global.Sucess(data))
	return nil
}

func bind(c *gin.Context, out any) error {
	if err := c.ShouldBindJSON(out); err != nil {
		return errs.ErrInvalidArgument.WrapMsg("bad request body", "cause", err.Error())
	}
	return nil
}

func queryInt(c *gin.Context, key string, def int64) (int64, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, errs.ErrInvalidArgument.WrapMsg("bad query parameter", key, v)
	}
	return n, nil
}

// NewRouter 组装路由；gin 模式由调用方设置
func (s *Server) NewRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.AccessLog(), middleware.Metrics())
	r.Use(middleware.NewManager(middleware.Origin(s.AllowOrigins)).Use())

	r.GET("/healthz", wrap(s.healthz))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if s.Gateway != nil {
		r.GET("/ws", s.Gateway.Serve)
	}

	auth := midsec.Middleware(midsec.DefaultOptions(s.Access), s.Sessions)
	v1 := r.Group("/api/v1")
	v1.POST("/session", wrap(s.login))

	a := v1.Group("", auth)
	a.DELETE("/session", wrap(s.logout))

	a.GET("/profiles/me", wrap(s.me))
	a.PATCH("/profiles/me", wrap(s.updateMe))
	a.GET("/profiles/search", wrap(s.searchProfiles))
	a.GET("/profiles/:id", wrap(s.getProfile))

	a.POST("/friends/requests", wrap(s.sendRequest))
	a.POST("/friends/requests/:id/accept", wrap(s.acceptRequest))
	a.POST("/friends/requests/:id/reject", wrap(s.rejectRequest))
	a.POST("/friends/requests/:id/cancel", wrap(s.cancelRequest))
	a.GET("/friends", wrap(s.listFriends))
	a.GET("/friends/requests/incoming", wrap(s.listIncoming))
	a.GET("/friends/requests/sent", wrap(s.listSent))
	a.DELETE("/friends/:id", wrap(s.removeFriend))

	a.POST("/rooms/direct", wrap(s.createDirect))
	a.POST("/rooms/group", wrap(s.createGroup))
	a.GET("/rooms", wrap(s.listRooms))
	a.GET("/rooms/:id", wrap(s.getRoom))
	a.GET("/rooms/:id/messages", wrap(s.listMessages))
	a.POST("/rooms/:id/messages", wrap(s.appendMessage))
	a.POST("/rooms/:id/read", wrap(s.markRead))
	a.GET("/rooms/:id/unread", wrap(s.unread))
	return r
}

func (s *Server) healthz(c *gin.Context) error {
	if s.Health != nil {
		if err := s.Health(c.Request.Context()); err != nil {
			return errs.ErrPersistence.WrapMsg("unhealthy", "cause", err.Error())
		}
	}
	return ok(c, gin.H{"sessions": s.Sessions.Count()})
}

// caller 由 auth 中间件保证非空
func caller(c *gin.Context) *session.Session {
	return midsec.SessionFrom(c)
}
