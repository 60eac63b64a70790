package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	auditdomain "github.com/smallbiznis/parkway/internal/audit/domain"
	obscontext "github.com/smallbiznis/parkway/internal/observability/context"
)

const (
	headerAuthorization = "Authorization"
	bearerPrefix        = "bearer"
	contextCallerIDKey  = "caller_id"
)

var errMissingSubject = errors.New("token subject is not a user id")

// tokenVerifier checks HS256 bearer tokens minted by the identity provider.
type tokenVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func newTokenVerifier(secret string) *tokenVerifier {
	return &tokenVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify returns the user id carried in the sub claim.
func (v *tokenVerifier) Verify(raw string) (snowflake.ID, error) {
	if v == nil || len(v.secret) == 0 {
		return 0, ErrUnauthorized
	}
	claims := jwt.RegisteredClaims{}
	token, err := v.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !token.Valid {
		return 0, ErrUnauthorized
	}
	id, err := snowflake.ParseString(strings.TrimSpace(claims.Subject))
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: %v", ErrUnauthorized, errMissingSubject)
	}
	return id, nil
}

func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := requestToken(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		callerID, err := s.verifier.Verify(raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextCallerIDKey, callerID)
		c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), auditdomain.ActorTypeUser, callerID.String()))
		c.Next()
	}
}

// requestToken reads the bearer header. Browsers cannot set headers on a
// websocket handshake, so upgrades may pass access_token in the query.
func requestToken(c *gin.Context) (string, bool) {
	if raw, ok := bearerToken(c.GetHeader(headerAuthorization)); ok {
		return raw, true
	}
	if websocket.IsWebSocketUpgrade(c.Request) {
		if raw := strings.TrimSpace(c.Query("access_token")); raw != "" {
			return raw, true
		}
	}
	return "", false
}

func bearerToken(header string) (string, bool) {
	fields := strings.Fields(header)
	if len(fields) != 2 || !strings.EqualFold(fields[0], bearerPrefix) {
		return "", false
	}
	return fields[1], true
}

// callerID is only valid behind AuthRequired.
func callerID(c *gin.Context) snowflake.ID {
	value, ok := c.Get(contextCallerIDKey)
	if !ok {
		return 0
	}
	id, _ := value.(snowflake.ID)
	return id
}
