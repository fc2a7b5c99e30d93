// Package otp stores short-lived e-mail verification codes in Redis.
//
// Each code lives under <otp-prefix>:<nonce> with a TTL. Creation is SET NX,
// so a live nonce is never overwritten, and consumption compares and deletes
// atomically, so a code verifies at most once.
package otp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tbourn/go-edge-state/internal/cache"
)

// ErrCodeExists is returned by Issue when the generated nonce is already live.
var ErrCodeExists = errors.New("otp: code already issued for nonce")

// CodeDigits is the length of issued codes.
const CodeDigits = 6

// consumeScript deletes the key only when the stored code matches ARGV[1].
// Returns 1 on success, 0 otherwise.
var consumeScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v and v == ARGV[1] then
  redis.call("DEL", KEYS[1])
  return 1
end
return 0
`)

// Client is the slice of the Redis client the store needs.
type Client interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// Store issues and consumes one-time codes.
type Store struct {
	Client Client
	Keys   cache.Keyspace
	TTL    time.Duration
	Rand   io.Reader // crypto/rand.Reader when nil
}

// NewStore returns a Store whose codes live for ttl.
func NewStore(c Client, keys cache.Keyspace, ttl time.Duration) *Store {
	return &Store{Client: c, Keys: keys, TTL: ttl}
}

// Create stores code under nonce unless one is already live, in which case
// it reports false and leaves the existing code untouched.
func (s *Store) Create(ctx context.Context, nonce, code string) (bool, error) {
	ok, err := s.Client.SetNX(ctx, s.Keys.OTP(nonce), code, s.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("otp: create: %w", err)
	}
	return ok, nil
}

// Issue generates a fresh nonce and code and stores them.
func (s *Store) Issue(ctx context.Context) (nonce, code string, err error) {
	if nonce, err = s.newNonce(); err != nil {
		return "", "", err
	}
	if code, err = s.newCode(); err != nil {
		return "", "", err
	}
	created, err := s.Create(ctx, nonce, code)
	if err != nil {
		return "", "", err
	}
	if !created {
		return "", "", ErrCodeExists
	}
	return nonce, code, nil
}

// Consume reports whether code matches the live code of nonce, deleting it
// on success. Missing, expired and wrong codes all report false; a wrong code
// stays usable until its TTL.
func (s *Store) Consume(ctx context.Context, nonce, code string) (bool, error) {
	if nonce == "" || len(code) != CodeDigits {
		return false, nil
	}
	n, err := consumeScript.Run(ctx, s.Client, []string{s.Keys.OTP(nonce)}, code).Int64()
	if err != nil {
		return false, fmt.Errorf("otp: consume: %w", err)
	}
	return n == 1, nil
}

func (s *Store) reader() io.Reader {
	if s.Rand != nil {
		return s.Rand
	}
	return rand.Reader
}

func (s *Store) newNonce() (string, error) {
	var b [32]byte
	if _, err := io.ReadFull(s.reader(), b[:]); err != nil {
		return "", fmt.Errorf("otp: nonce: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

func (s *Store) newCode() (string, error) {
	n, err := rand.Int(s.reader(), big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("otp: code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeDigits, n.Int64()), nil
}

