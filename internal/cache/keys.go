// Package cache owns the shared Redis substrate: connection bootstrap and the
// key layout every worker agrees on.
//
// Key formats (prefixes come from config.KeysConfig):
//
//	<rate-namespace>:<dimension>:<sha256-hex(raw)>   sorted set of hit timestamps, PEXPIRE window
//	<activity-prefix>:session:<id>:events            list of raw events, no TTL
//	<activity-prefix>:session:<id>:timer             "1", PX inactivity window
//	<otp-prefix>:<nonce>                             six-digit code, PX otp ttl
//
// Raw identifiers used for rate limiting are hashed so cookies, install ids,
// IP buckets and e-mail addresses never appear in the keyspace.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/tbourn/go-edge-state/internal/config"
)

// Dimension names one rate-limit identity axis.
type Dimension string

const (
	DimVisitor Dimension = "visitor"
	DimInstall Dimension = "install"
	DimIP      Dimension = "ip"
	DimEmail   Dimension = "email"
)

const (
	sessionSegment = "session"
	eventsSuffix   = "events"
	timerSuffix    = "timer"
)

// Keyspace builds and parses cache keys.
type Keyspace struct {
	RateNamespace  string
	ActivityPrefix string
	OTPPrefix      string
}

// NewKeyspace returns the Keyspace described by cfg.
func NewKeyspace(cfg config.KeysConfig) Keyspace {
	return Keyspace{
		RateNamespace:  cfg.RateNamespace,
		ActivityPrefix: cfg.ActivityPrefix,
		OTPPrefix:      cfg.OTPPrefix,
	}
}

// RateLimit returns the sliding-window key for raw under dim.
func (k Keyspace) RateLimit(dim Dimension, raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return k.RateNamespace + ":" + string(dim) + ":" + hex.EncodeToString(sum[:])
}

// Events returns the event log key of an interaction.
func (k Keyspace) Events(interactionID string) string {
	return k.session(interactionID) + ":" + eventsSuffix
}

// Timer returns the inactivity timer key of an interaction.
func (k Keyspace) Timer(interactionID string) string {
	return k.session(interactionID) + ":" + timerSuffix
}

// EventsPattern is the SCAN MATCH pattern covering every event log.
func (k Keyspace) EventsPattern() string {
	return k.ActivityPrefix + ":" + sessionSegment + ":*:" + eventsSuffix
}

// ParseTimerKey extracts the interaction id from a timer key. Keys outside the
// activity namespace, or with an empty id, report ok=false.
func (k Keyspace) ParseTimerKey(key string) (string, bool) {
	return k.parseSessionKey(key, timerSuffix)
}

// ParseEventsKey extracts the interaction id from an event log key.
func (k Keyspace) ParseEventsKey(key string) (string, bool) {
	return k.parseSessionKey(key, eventsSuffix)
}

// OTP returns the key of a one-time code bound to nonce.
func (k Keyspace) OTP(nonce string) string {
	return k.OTPPrefix + ":" + nonce
}

func (k Keyspace) session(id string) string {
	return k.ActivityPrefix + ":" + sessionSegment + ":" + id
}

func (k Keyspace) parseSessionKey(key, suffix string) (string, bool) {
	prefix := k.ActivityPrefix + ":" + sessionSegment + ":"
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, ":"+suffix)
	if !ok || id == "" || strings.Contains(id, ":") {
		return "", false
	}
	return id, true
}
