package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	tokendomain "github.com/smallbiznis/parkway/internal/token/domain"
)

func (s *Server) IssueToken(c *gin.Context) {
	var req tokendomain.IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.CallerID = callerID(c)
	if req.UserID == 0 {
		req.UserID = req.CallerID
	}

	token, err := s.tokenSvc.Issue(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": token})
}

// ValidateToken answers 200 with valid=false and a reason for every
// rejection a gate can act on. Only unexpected failures become errors.
func (s *Server) ValidateToken(c *gin.Context) {
	var req tokendomain.ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.tokenSvc.Validate(c.Request.Context(), req)
	if err != nil && result.Reason == "" {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) CleanupTokens(c *gin.Context) {
	removed, err := s.tokenSvc.CleanupExpired(c.Request.Context(), callerID(c), s.clock.Now())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"removed": removed}})
}
