// Package token implements the tamper-evident opaque token format used for
// pseudo-identity cookies and for binding one-time codes to a browser
// session.
//
// A token is "<payload>.<signature>" where signature is HMAC-SHA256 over the
// payload, base64url encoded without padding. Payloads travel in clear text:
// the MAC provides integrity and authenticity, never confidentiality.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyKey is returned when a codec is built without key material.
var ErrEmptyKey = errors.New("token: empty signing key")

// sigEncoding rejects non-canonical trailing bits so every flipped character
// of a signature changes the decoded bytes.
var sigEncoding = base64.RawURLEncoding.Strict()

// Codec signs and verifies tokens with a process-wide secret. It is immutable
// after construction and safe for concurrent use.
type Codec struct {
	key []byte
}

// NewCodec returns a Codec for key. The key is copied.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Codec{key: k}, nil
}

// NewCodecFromHex decodes a hex key (as produced by `openssl rand -hex 32`).
func NewCodecFromHex(s string) (*Codec, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("token: decode hex key: %w", err)
	}
	return NewCodec(key)
}

// Sign returns the unpadded base64url HMAC-SHA256 of payload.
func (c *Codec) Sign(payload string) string {
	return sigEncoding.EncodeToString(c.mac(payload))
}

// Verify reports whether sig is a valid signature of payload. Malformed
// signatures are simply invalid.
func (c *Codec) Verify(payload, sig string) bool {
	got, err := sigEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(got, c.mac(payload))
}

// Encode returns payload followed by "." and its signature.
func (c *Codec) Encode(payload string) string {
	return payload + "." + c.Sign(payload)
}

// Decode splits token on its last "." and returns the payload when the
// signature verifies. A missing separator or a bad signature yields ok=false;
// callers treat that as "no identity".
func (c *Codec) Decode(token string) (payload string, ok bool) {
	i := strings.LastIndexByte(token, '.')
	if i < 0 {
		return "", false
	}
	payload, sig := token[:i], token[i+1:]
	if !c.Verify(payload, sig) {
		return "", false
	}
	return payload, true
}

// ReadOrIssue returns the identity carried by raw when it verifies. Otherwise
// it mints a fresh id with newID and also returns the encoded value the caller
// should hand back to the client (issued is empty when raw was valid).
func (c *Codec) ReadOrIssue(raw string, newID func() string) (id, issued string) {
	if raw != "" {
		if v, ok := c.Decode(raw); ok {
			return v, ""
		}
	}
	id = newID()
	return id, c.Encode(id)
}

func (c *Codec) mac(payload string) []byte {
	m := hmac.New(sha256.New, c.key)
	m.Write([]byte(payload))
	return m.Sum(nil)
}
