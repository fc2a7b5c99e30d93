package services

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// maxEmailLen is the RFC 5321 path limit.
const maxEmailLen = 254

// NormalizeEmail trims and case-folds addr and rejects anything that is not a
// bare address (display names, angle brackets, trailing text).
func NormalizeEmail(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" || len(addr) > maxEmailLen {
		return "", ErrInvalidEmail
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr || parsed.Name != "" {
		return "", ErrInvalidEmail
	}
	return cases.Fold().String(addr), nil
}

const codeSubject = "Email Verification"

// codeText is the plain-text body of the verification mail.
func codeText(code string, ttl time.Duration) string {
	return fmt.Sprintf("Your verification code is: %s\n\n"+
		"This code will expire in %d minutes.\n"+
		"If you did not request this, you can ignore this email.", code, int(ttl.Minutes()))
}

// codeHTML is the HTML body of the verification mail.
func codeHTML(code string, ttl time.Duration, year int) string {
	return fmt.Sprintf(`<!doctype html>
<html>
  <body style="background:#f6f8fb;margin:0;padding:24px;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,Helvetica,Arial,sans-serif;color:#0f172a;">
    <p>Your verification code is:</p>
    <div style="text-align:center;margin:20px 0;">
      <div style="display:inline-block;letter-spacing:6px;font-weight:700;font-size:28px;color:#111827;background:#f3f4f6;border-radius:12px;padding:12px 18px;">%s</div>
    </div>
    <p>This code will expire in %d minutes. If you did not request this, you can ignore this email.</p>
    <p style="color:#64748b;font-size:12px;">&copy; %d</p>
  </body>
</html>
`, code, int(ttl.Minutes()), year)
}
