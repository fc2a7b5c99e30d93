// Onboarding HTTP handlers.
//
// Preparation runs before any authentication: it pins a pseudo-identity
// cookie on the browser and charges the visitor, install and IP budgets.
// The e-mail endpoints run the one-time code exchange; the nonce travels in a
// signed cookie bound to the address it was sent to.
package handlers

import (
	"net/http"
	"net/netip"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-edge-state/internal/http/middleware"
	"github.com/tbourn/go-edge-state/internal/ratelimit"
	"github.com/tbourn/go-edge-state/internal/services"
)

// ExtraData is the stable fingerprint block sent by the client. Only the
// install id is used server-side; the rest is accepted for forward
// compatibility.
type ExtraData struct {
	InstallID string `json:"installId"`
	UserAgent string `json:"userAgent,omitempty"`
	TimeZone  string `json:"timeZone,omitempty"`
}

// PreparationRequest is the JSON payload of POST /onboarding/preparation.
type PreparationRequest struct {
	AppVersion  string    `json:"appVersion"`
	Fingerprint string    `json:"fingerprint"`
	ExtraData   ExtraData `json:"extraData"`
	// IP is used only when the server cannot determine the client address.
	IP string `json:"ip,omitempty"`
}

// PreparationResponse is returned on success.
type PreparationResponse struct {
	OK        bool   `json:"ok"`
	VisitorID string `json:"visitorId"`
}

// EmailCodeRequest is the JSON payload of POST /onboarding/email/code.
type EmailCodeRequest struct {
	Email string `json:"email" binding:"required"`
}

// EmailVerifyRequest is the JSON payload of POST /onboarding/email/verify.
type EmailVerifyRequest struct {
	Email string `json:"email" binding:"required"`
	Code  string `json:"code"  binding:"required"`
}

// OKResponse is the minimal success body.
type OKResponse struct {
	OK bool `json:"ok"`
}

// VerifyResponse is returned once an address is verified.
type VerifyResponse struct {
	OK    bool   `json:"ok"`
	Email string `json:"email"`
}

// Prepare godoc
// @ID          prepareVisitor
// @Summary     Resolve visitor identity
// @Description Reads or issues the signed visitor cookie and charges the visitor, install and IP-bucket budgets.
// @Tags        Onboarding
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.PreparationRequest  true  "Client fingerprint and install id"
//
// @Success     200  {object} handlers.PreparationResponse
// @Header      200  {string} Set-Cookie   "__Host-vid when a new identity was issued"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     429  {object} handlers.ErrorResponse "Rate limited (or cache unavailable)"
// @Header      429  {string} Retry-After  "Seconds until the window frees up"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /onboarding/preparation [post]
func (h *Handlers) Prepare(c *gin.Context) {
	var req PreparationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	res, err := h.onboarding.Prepare(c.Request.Context(), services.PrepareInput{
		VisitorCookie: cookie(c, CookieVisitor),
		InstallID:     req.ExtraData.InstallID,
		ClientIP:      requestIP(c, req.IP),
	})
	if err != nil {
		serviceError(c, err)
		return
	}

	middleware.SetVisitor(c, res.VisitorID)
	if res.SetCookie != "" {
		setCookie(c, CookieVisitor, res.SetCookie, h.Cookies.VisitorTTL)
	}
	ok(c, http.StatusOK, PreparationResponse{OK: true, VisitorID: res.VisitorID})
}

// SendEmailCode godoc
// @ID          sendEmailCode
// @Summary     Send a one-time code
// @Description Mails a six-digit code and sets the signed nonce cookie that binds it to the address.
// @Tags        Onboarding
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.EmailCodeRequest  true  "Address to verify"
//
// @Success     200  {object} handlers.OKResponse
// @Failure     400  {object} handlers.ErrorResponse "Invalid address"
// @Failure     429  {object} handlers.ErrorResponse "Rate limited"
// @Failure     503  {object} handlers.ErrorResponse "Cache or mailer unavailable"
// @Router      /onboarding/email/code [post]
func (h *Handlers) SendEmailCode(c *gin.Context) {
	var req EmailCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "email is required")
		return
	}

	nonceCookie, err := h.onboarding.SendCode(c.Request.Context(), req.Email)
	if err != nil {
		serviceError(c, err)
		return
	}
	setCookie(c, CookieOTPNonce, nonceCookie, h.Cookies.NonceTTL)
	ok(c, http.StatusOK, OKResponse{OK: true})
}

// VerifyEmailCode godoc
// @ID          verifyEmailCode
// @Summary     Verify a one-time code
// @Description A successful check spends the nonce cookie and sets the verified-address cookie.
// @Tags        Onboarding
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.EmailVerifyRequest  true  "Address and code"
//
// @Success     200  {object} handlers.VerifyResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Invalid or expired code"
// @Failure     429  {object} handlers.ErrorResponse "Rate limited"
// @Failure     503  {object} handlers.ErrorResponse "Cache unavailable"
// @Router      /onboarding/email/verify [post]
func (h *Handlers) VerifyEmailCode(c *gin.Context) {
	var req EmailVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "email and code are required")
		return
	}

	verified, err := h.onboarding.VerifyCode(c.Request.Context(), req.Email, req.Code, cookie(c, CookieOTPNonce))
	if err != nil {
		serviceError(c, err)
		return
	}
	clearCookie(c, CookieOTPNonce)
	setCookie(c, CookieVerifiedEmail, verified, h.Cookies.VerifiedTTL)
	ok(c, http.StatusOK, VerifyResponse{OK: true, Email: req.Email})
}

// requestIP prefers the address seen by the server and falls back to the
// one the client reported.
func requestIP(c *gin.Context, reported string) netip.Addr {
	if a, ok := ratelimit.ClientIP(c.Request); ok {
		return a
	}
	if a, ok := ratelimit.ParseIP(reported); ok {
		return a
	}
	return netip.Addr{}
}
