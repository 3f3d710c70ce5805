package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	jwt "github.com/golang-jwt/jwt/v5"

	"roomrelay/backend/internal/models"
	"roomrelay/backend/internal/storage"
)

const tokenIssuer = "roomrelay-service"

// generateJWT signs an access token carrying the user id.
func (h *Handler) generateJWT(userID string) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(h.JWTTTL).Unix(),
		"iss":     tokenIssuer,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.JWTSecret)
}

// validateAndGetUserID parses a bearer token and returns the user id claim.
func (h *Handler) validateAndGetUserID(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return h.JWTSecret, nil
	})
	if err != nil || !token.Valid {
		return "", errors.New("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", errors.New("missing user_id claim")
	}
	return userID, nil
}

type tokenRequest struct {
	Username string `json:"username" binding:"required"`
}

// IssueToken returns a signed token for the named user, creating the user
// record on first sight. Development-grade identity: there is no password,
// the gateway only needs a stable authenticated user id per connection.
func (h *Handler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username required"})
		return
	}

	user, err := h.Store.GetUserByUsername(c.Request.Context(), req.Username)
	if errors.Is(err, storage.ErrNotFound) {
		user = &models.User{
			ID:       uuid.NewString(),
			Username: req.Username,
			Status:   models.StatusOffline,
		}
		if err := h.Store.CreateUser(c.Request.Context(), user); err != nil {
			h.Log.Error().Err(err).Str("username", req.Username).Msg("create user")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
			return
		}
	} else if err != nil {
		h.Log.Error().Err(err).Msg("load user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
		return
	}

	token, err := h.generateJWT(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user_id": user.ID})
}

// RequireAuth is the REST middleware counterpart of the WS handshake check.
func (h *Handler) RequireAuth(c *gin.Context) {
	userID, err := h.userFromRequest(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token or expired"})
		return
	}
	c.Set("userID", userID)
	c.Next()
}

// userFromRequest extracts and validates the bearer token from the
// Authorization header, falling back to a token query parameter for
// browser WebSocket clients that cannot set headers.
func (h *Handler) userFromRequest(c *gin.Context) (string, error) {
	tokenString := ""
	if auth := c.GetHeader("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
		tokenString = auth[7:]
	} else if q := c.Query("token"); q != "" {
		tokenString = q
	}
	if tokenString == "" {
		return "", errors.New("missing token")
	}
	return h.validateAndGetUserID(tokenString)
}
