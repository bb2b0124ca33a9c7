package api

import (
	"moodchat/module/chat/model"
	"moodchat/module/message"

	"github.com/gin-gonic/gin"
)

type directReq struct {
	UserID string `json:"user_id" binding:"required"`
}

type groupReq struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids"`
}

func (s *Server) createDirect(c *gin.Context) error {
	var req directReq
	if err := bind(c, &req); err != nil {
		return err
	}
	r, err := s.Rooms.FindOrCreateDirectRoom(c.Request.Context(), caller(c).Profile.ID, req.UserID)
	if err != nil {
		return err
	}
	return ok(c, r)
}

func (s *Server) createGroup(c *gin.Context) error {
	var req groupReq
	if err := bind(c, &req); err != nil {
		return err
	}
	r, err := s.Rooms.CreateGroupRoom(c.Request.Context(), caller(c).Profile.ID, req.Name, req.MemberIDs)
	if err != nil {
		return err
	}
	return ok(c, r)
}

func (s *Server) listRooms(c *gin.Context) error {
	list, err := s.Rooms.ListRoomsForProfile(c.Request.Context(), caller(c).Profile.ID)
	if err != nil {
		return err
	}
	if list == nil {
		list = []*model.RoomSummary{}
	}
	return ok(c, list)
}

func (s *Server) getRoom(c *gin.Context) error {
	sum, err := s.Rooms.GetRoom(c.Request.Context(), c.Param("id"), caller(c).Profile.ID)
	if err != nil {
		return err
	}
	return ok(c, sum)
}

func (s *Server) listMessages(c *gin.Context) error {
	after, err := queryInt(c, "after_seq", 0)
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		return err
	}
	list, err := s.Messages.ListMessages(c.Request.Context(), c.Param("id"), caller(c).Profile.ID,
		message.ListOptions{AfterSeq: after, Limit: int(limit)})
	if err != nil {
		return err
	}
	if list == nil {
		list = []*model.Message{}
	}
	return ok(c, list)
}

func (s *Server) appendMessage(c *gin.Context) error {
	var req message.AppendRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	req.RoomID = c.Param("id")
	req.SenderID = caller(c).Profile.ID
	m, err := s.Messages.Append(c.Request.Context(), req)
	if err != nil {
		return err
	}
	return ok(c, m)
}

func (s *Server) markRead(c *gin.Context) error {
	m, err := s.Messages.MarkRead(c.Request.Context(), c.Param("id"), caller(c).Profile.ID)
	if err != nil {
		return err
	}
	return ok(c, m)
}

func (s *Server) unread(c *gin.Context) error {
	n, err := s.Messages.UnreadCount(c.Request.Context(), c.Param("id"), caller(c).Profile.ID)
	if err != nil {
		return err
	}
	return ok(c, gin.H{"unread": n})
}
