package api

import (
	"time"

	"moodchat/module/chat/model"
	"moodchat/tools/errs"
	"moodchat/tools/security"

	"github.com/gin-gonic/gin"
)

type loginReq struct {
	Token string `json:"token" binding:"required"`
}

type loginResp struct {
	AccessToken string         `json:"access_token"`
	ExpireAt    time.Time      `json:"expire_at"`
	SessionID   string         `json:"session_id"`
	Profile     *model.Profile `json:"profile"`
}

// login 用外部账号 token 换 access token
func (s *Server) login(c *gin.Context) error {
	var req loginReq
	if err := bind(c, &req); err != nil {
		return err
	}
	claims, err := security.Verify(s.Provider, req.Token)
	if err != nil {
		return err
	}
	if claims.Email == "" {
		return errs.ErrTokenInvalid.WrapMsg("account token has no email")
	}
	sess, err := s.Sessions.Login(c.Request.Context(), model.Account{
		ID:        claims.Subject,
		Email:     claims.Email,
		Name:      claims.Name,
		AvatarURL: claims.AvatarURL,
	})
	if err != nil {
		return err
	}
	token, exp, err := security.Generate(s.Access, security.Claims{
		Subject:   sess.Profile.ID,
		Email:     sess.Profile.Email,
		SessionID: sess.ID,
	})
	if err != nil {
		_ = s.Sessions.Logout(c.Request.Context(), sess.ID)
		return errs.WrapMsg(err, "sign access token")
	}
	return ok(c, loginResp{AccessToken: token, ExpireAt: exp, SessionID: sess.ID, Profile: sess.Profile})
}

func (s *Server) logout(c *gin.Context) error {
	if err := s.Sessions.Logout(c.Request.Context(), caller(c).ID); err != nil {
		return err
	}
	return ok(c, nil)
}
