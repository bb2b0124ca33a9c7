package api

import (
	"moodchat/module/chat/model"
	"moodchat/module/identity"

	"github.com/gin-gonic/gin"
)

func (s *Server) me(c *gin.Context) error {
	p, err := s.Identity.GetProfile(c.Request.Context(), caller(c).Profile.ID)
	if err != nil {
		return err
	}
	return ok(c, p)
}

func (s *Server) updateMe(c *gin.Context) error {
	var patch identity.ProfilePatch
	if err := bind(c, &patch); err != nil {
		return err
	}
	p, err := s.Identity.UpdateProfile(c.Request.Context(), caller(c).Profile.ID, patch)
	if err != nil {
		return err
	}
	return ok(c, p)
}

func (s *Server) searchProfiles(c *gin.Context) error {
	limit, err := queryInt(c, "limit", int64(s.SearchLimit))
	if err != nil {
		return err
	}
	list, err := s.Identity.FindProfilesByEmailPrefix(c.Request.Context(), caller(c).Profile.ID, c.Query("q"), int(limit))
	if err != nil {
		return err
	}
	if list == nil {
		list = []*model.Profile{}
	}
	return ok(c, list)
}

type profileView struct {
	*model.Profile
	Online bool `json:"online"`
}

func (s *Server) getProfile(c *gin.Context) error {
	ctx := c.Request.Context()
	p, err := s.Identity.GetProfile(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	online, err := s.Sessions.IsOnline(ctx, p.ID)
	if err != nil {
		return err
	}
	return ok(c, profileView{Profile: p, Online: online})
}
