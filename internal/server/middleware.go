package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/corates/internal/orgcontext"
)

const (
	HeaderOrg  = "X-Org-Id"
	HeaderUser = "X-User-Id"

	contextUserIDKey = "user_id"
)

// UserContext reads the caller injected by the auth gateway.
func (s *Server) UserContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := parseHeaderID(c.GetHeader(HeaderUser))
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Set(contextUserIDKey, userID.String())
		c.Next()
	}
}

// RequestContext reads the caller and the active organization.
func (s *Server) RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := parseHeaderID(c.GetHeader(HeaderUser))
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		orgID, err := parseHeaderID(c.GetHeader(HeaderOrg))
		if err != nil {
			AbortWithError(c, newValidationError("org_id", "invalid_org_id", "X-Org-Id header is required"))
			return
		}

		c.Set(contextUserIDKey, userID.String())
		c.Request = c.Request.WithContext(orgcontext.WithOrgID(c.Request.Context(), orgID))
		c.Next()
	}
}

func (s *Server) userIDFromSession(c *gin.Context) (snowflake.ID, bool) {
	value, ok := c.Get(contextUserIDKey)
	if !ok {
		return 0, false
	}
	raw, ok := value.(string)
	if !ok {
		return 0, false
	}
	userID, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || userID == 0 {
		return 0, false
	}
	return userID, true
}

func (s *Server) orgIDFromRequest(c *gin.Context) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok || orgID == 0 {
		return 0, newValidationError("org_id", "invalid_org_id", "X-Org-Id header is required")
	}
	return orgID, nil
}

// callerFromContext returns the user and organization set by RequestContext.
func (s *Server) callerFromContext(c *gin.Context) (snowflake.ID, snowflake.ID, error) {
	userID, ok := s.userIDFromSession(c)
	if !ok {
		return 0, 0, ErrUnauthorized
	}
	orgID, err := s.orgIDFromRequest(c)
	if err != nil {
		return 0, 0, err
	}
	return userID, orgID, nil
}

func parseHeaderID(value string) (snowflake.ID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, ErrInvalidRequest
	}
	parsed, err := snowflake.ParseString(trimmed)
	if err != nil || parsed <= 0 {
		return 0, ErrInvalidRequest
	}
	return parsed, nil
}
