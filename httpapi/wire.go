package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"

	phoneauth "github.com/viznet/phoneauth"
)

type sendCodeRequest struct {
	Phone   string `json:"phone"`
	Purpose string `json:"purpose"`
}

type verifyCodeRequest struct {
	Phone   string `json:"phone"`
	Code    string `json:"code"`
	Purpose string `json:"purpose"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type logoutRequest struct {
	AllDevices bool `json:"allDevices"`
}

type loginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type registerRequest struct {
	Phone    string `json:"phone"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userPayload struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Phone           string     `json:"phone"`
	Email           string     `json:"email,omitempty"`
	PhoneVerifiedAt *time.Time `json:"phoneVerifiedAt,omitempty"`
}

func userJSON(s *phoneauth.Subject) userPayload {
	return userPayload{
		ID:              s.ID,
		Name:            s.Name,
		Phone:           s.Phone,
		Email:           s.Email,
		PhoneVerifiedAt: s.PhoneVerifiedAt,
	}
}

func pairJSON(s *phoneauth.Subject, pair *phoneauth.TokenPair) gin.H {
	return gin.H{
		"token":        pair.AccessToken,
		"refreshToken": pair.RefreshToken,
		"expiresIn":    pair.ExpiresIn,
		"user":         userJSON(s),
	}
}

func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"code":    code,
		"message": message,
	})
}
