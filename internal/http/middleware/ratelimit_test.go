package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/quartz"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/tbourn/go-edge-state/internal/cache"
	"github.com/tbourn/go-edge-state/internal/ratelimit"
)

type recordingChecker struct {
	rules    []ratelimit.Rule
	decision ratelimit.Decision
}

func (r *recordingChecker) Check(_ context.Context, rules ...ratelimit.Rule) ratelimit.Decision {
	r.rules = append(r.rules, rules...)
	return r.decision
}

func TestKeyByIPBucket(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := map[string]struct {
		remote string
		xff    string
		want   string
	}{
		"peer v4":   {remote: "203.0.113.9:12345", want: "203.0.113.0/24"},
		"xff first": {remote: "10.0.0.1:1", xff: "198.51.100.7, 10.0.0.1", want: "198.51.100.0/24"},
		"peer v6":   {remote: "[2001:db8:1:2:3::4]:443", want: "2001:db8:1:2::/64"},
		"unknown":   {remote: "pipe", want: ""},
	}
	for name, tc := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		c.Request.RemoteAddr = tc.remote
		if tc.xff != "" {
			c.Request.Header.Set("X-Forwarded-For", tc.xff)
		}
		if got := KeyByIPBucket()(c); got != tc.want {
			t.Fatalf("%s: got %q want %q", name, got, tc.want)
		}
	}
}

func TestKeyWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "203.0.113.9:1"

	if got := KeyWithPrefix("email:", KeyByIPBucket())(c); got != "email:203.0.113.0/24" {
		t.Fatalf("got %q", got)
	}
	empty := func(*gin.Context) string { return "" }
	if got := KeyWithPrefix("email:", empty)(c); got != "" {
		t.Fatalf("empty identity must stay empty, got %q", got)
	}
}

func TestRateLimit_AllowsAndCharges(t *testing.T) {
	gin.SetMode(gin.TestMode)
	chk := &recordingChecker{decision: ratelimit.Decision{Allowed: true}}
	r := gin.New()
	r.Use(RateLimit(chk, RateLimitOptions{Dimension: cache.DimIP, Limit: 5, Window: time.Minute}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "203.0.113.9:1"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if len(chk.rules) != 1 || chk.rules[0].Identity != "203.0.113.0/24" || chk.rules[0].Limit != 5 {
		t.Fatalf("rules = %+v", chk.rules)
	}
}

func TestRateLimit_SkipsEmptyKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	chk := &recordingChecker{}
	r := gin.New()
	r.Use(RateLimit(chk, RateLimitOptions{Key: func(*gin.Context) string { return "" }}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusOK || len(chk.rules) != 0 {
		t.Fatalf("status=%d rules=%v", w.Code, chk.rules)
	}
}

func TestRateLimit_Rejects(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := map[string]ratelimit.Decision{
		"limited":    {Reason: ratelimit.ReasonLimited, RetryAfter: 1500 * time.Millisecond},
		"cache down": {Reason: ratelimit.ReasonCacheError},
	}
	for name, d := range cases {
		t.Run(name, func(t *testing.T) {
			r := gin.New()
			r.Use(RequestID())
			r.Use(RateLimit(&recordingChecker{decision: d}, RateLimitOptions{Key: func(*gin.Context) string { return "k" }}))
			r.GET("/x", func(c *gin.Context) { t.Fatalf("handler must not run") })

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
			if w.Code != http.StatusTooManyRequests {
				t.Fatalf("status = %d", w.Code)
			}
			var body map[string]string
			_ = json.Unmarshal(w.Body.Bytes(), &body)
			if body["code"] != "too_many_requests" || body["request_id"] == "" {
				t.Fatalf("body = %v", body)
			}
			if ra := w.Header().Get("Retry-After"); ra == "" || ra == "0" {
				t.Fatalf("Retry-After = %q", ra)
			}
		})
	}
}

// End to end against the Redis limiter: the sixth request in the window is refused.
func TestRateLimit_WithRedisGuard(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	guard := ratelimit.NewGuard(ratelimit.NewLimiter(rdb, quartz.NewMock(t)), cache.Keyspace{RateNamespace: "rl"})
	r := gin.New()
	r.Use(RateLimit(guard, RateLimitOptions{Dimension: cache.DimIP, Limit: 5, Window: time.Minute}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 1; i <= 6; i++ {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.RemoteAddr = "203.0.113.9:1"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		want := http.StatusOK
		if i == 6 {
			want = http.StatusTooManyRequests
		}
		if w.Code != want {
			t.Fatalf("request %d: status %d, want %d", i, w.Code, want)
		}
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	cases := map[time.Duration]string{
		0:                       "1",
		300 * time.Millisecond:  "1",
		1500 * time.Millisecond: "2",
		time.Minute:             "60",
	}
	for in, want := range cases {
		if got := RetryAfterSeconds(in); got != want {
			t.Fatalf("RetryAfterSeconds(%s) = %q; want %q", in, got, want)
		}
	}
}
