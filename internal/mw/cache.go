package mw

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"

	"signage-control-backend/internal/auth"
)

// CacheHeader reports HIT or MISS on cacheable listings.
const CacheHeader = "X-Cache"

type listing struct {
	status      int
	contentType string
	body        []byte
}

type recorder struct {
	gin.ResponseWriter
	buf *bytes.Buffer
}

func (r recorder) Write(b []byte) (int, error) {
	r.buf.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r recorder) WriteString(s string) (int, error) {
	r.buf.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}

// CacheKey scopes a cached listing to the account and the organization it
// is acting in. Callers without a principal get no key.
func CacheKey(c *gin.Context) (string, bool) {
	p, ok := auth.FromContext(c)
	if !ok {
		return "", false
	}
	return p.AccountID + "|" + p.EffectiveOrganizationID() + "|" + c.Request.RequestURI, true
}

// Cache serves repeated GETs of a principal's listing from store for ttl.
// Only 2xx responses are kept.
func Cache(store *cache.Cache, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}
		key, ok := CacheKey(c)
		if !ok {
			c.Next()
			return
		}

		if v, found := store.Get(key); found {
			hit := v.(listing)
			c.Header(CacheHeader, "HIT")
			c.Data(hit.status, hit.contentType, hit.body)
			c.Abort()
			return
		}

		rec := recorder{ResponseWriter: c.Writer, buf: &bytes.Buffer{}}
		c.Writer = rec
		c.Header(CacheHeader, "MISS")
		c.Next()

		if status := rec.Status(); status >= 200 && status < 300 {
			store.Set(key, listing{
				status:      status,
				contentType: rec.Header().Get("Content-Type"),
				body:        rec.buf.Bytes(),
			}, ttl)
		}
	}
}
