package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Cookie names. The __Host- prefix pins cookies to this origin: Secure,
// Path=/ and no Domain attribute.
const (
	CookieVisitor       = "__Host-vid"
	CookieOTPNonce      = "__Host-otp_nonce"
	CookieVerifiedEmail = "__Host-verified_email"
	// CookieTracking carries the interaction id. Its name is shared with
	// existing clients, so it does not use the __Host- prefix.
	CookieTracking = "auth-track_interaction"
)

// CookieConfig holds cookie lifetimes.
type CookieConfig struct {
	VisitorTTL     time.Duration
	InteractionTTL time.Duration
	NonceTTL       time.Duration
	VerifiedTTL    time.Duration
}

// DefaultCookies are the lifetimes used when the router does not override
// them; NonceTTL normally tracks the one-time code TTL.
var DefaultCookies = CookieConfig{
	VisitorTTL:     365 * 24 * time.Hour,
	InteractionTTL: 15 * time.Minute,
	NonceTTL:       10 * time.Minute,
	VerifiedTTL:    24 * time.Hour,
}

func setCookie(c *gin.Context, name, value string, ttl time.Duration) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearCookie(c *gin.Context, name string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

// cookie returns the named cookie value or "".
func cookie(c *gin.Context, name string) string {
	v, err := c.Cookie(name)
	if err != nil {
		return ""
	}
	return v
}
