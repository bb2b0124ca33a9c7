package api

import (
	"moodchat/module/chat/model"

	"github.com/gin-gonic/gin"
)

// IdempotencyHeader 客户端重试 sendRequest 时携带同一个值
const IdempotencyHeader = "Idempotency-Key"

type sendRequestReq struct {
	Email string `json:"email" binding:"required"`
}

func (s *Server) sendRequest(c *gin.Context) error {
	var req sendRequestReq
	if err := bind(c, &req); err != nil {
		return err
	}
	link, err := s.Social.SendRequest(c.Request.Context(), caller(c).Profile.ID, req.Email, c.GetHeader(IdempotencyHeader))
	if err != nil {
		return err
	}
	return ok(c, link)
}

func (s *Server) acceptRequest(c *gin.Context) error {
	link, err := s.Social.Accept(c.Request.Context(), c.Param("id"), caller(c).Profile.ID)
	if err != nil {
		return err
	}
	return ok(c, link)
}

func (s *Server) rejectRequest(c *gin.Context) error {
	if err := s.Social.Reject(c.Request.Context(), c.Param("id"), caller(c).Profile.ID); err != nil {
		return err
	}
	return ok(c, nil)
}

func (s *Server) cancelRequest(c *gin.Context) error {
	if err := s.Social.Cancel(c.Request.Context(), c.Param("id"), caller(c).Profile.ID); err != nil {
		return err
	}
	return ok(c, nil)
}

func (s *Server) listFriends(c *gin.Context) error {
	list, err := s.Social.ListFriends(c.Request.Context(), caller(c).Profile.ID)
	if err != nil {
		return err
	}
	if list == nil {
		list = []*model.Profile{}
	}
	return ok(c, list)
}

func (s *Server) listIncoming(c *gin.Context) error {
	list, err := s.Social.ListPending(c.Request.Context(), caller(c).Profile.ID)
	if err != nil {
		return err
	}
	return links(c, list)
}

func (s *Server) listSent(c *gin.Context) error {
	list, err := s.Social.ListSent(c.Request.Context(), caller(c).Profile.ID)
	if err != nil {
		return err
	}
	return links(c, list)
}

func links(c *gin.Context, list []*model.FriendLink) error {
	if list == nil {
		list = []*model.FriendLink{}
	}
	return ok(c, list)
}

// removeFriend :id 是对方的 profile id
func (s *Server) removeFriend(c *gin.Context) error {
	if err := s.Social.Remove(c.Request.Context(), caller(c).Profile.ID, c.Param("id")); err != nil {
		return err
	}
	return ok(c, nil)
}
