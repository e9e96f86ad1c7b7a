package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/autoforge-backend/internal/http/response"
	"github.com/yungbote/autoforge-backend/internal/services"
)

type AuthHandler struct {
	authService services.AuthService
}

func NewAuthHandler(authService services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Token is the admin login endpoint. Credentials arrive as query
// parameters; the response carries a bearer JWT.
func (ah *AuthHandler) Token(c *gin.Context) {
	token, err := ah.authService.Login(c.Query("username"), c.Query("password"))
	if err != nil {
		response.RespondError(c, http.StatusUnauthorized, "invalid_credentials", err)
		return
	}
	response.RespondOK(c, gin.H{
		"access_token": token,
		"token_type":   "bearer",
	})
}
