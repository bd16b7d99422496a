package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestCache_OnlyListedCommands(t *testing.T) {
	store := cache.New(time.Minute, time.Minute)
	calls := 0

	r := gin.New()
	r.GET("/api/plugin/whosprinting", Cache(store, time.Minute, QueryCommandKey("list")), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"calls": calls})
	})

	get := func(url string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, url, nil)
		r.ServeHTTP(w, req)
		return w
	}

	first := get("/api/plugin/whosprinting?command=list")
	second := get("/api/plugin/whosprinting?command=list")
	assert.JSONEq(t, `{"calls":1}`, first.Body.String())
	assert.JSONEq(t, `{"calls":1}`, second.Body.String())
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))

	get("/api/plugin/whosprinting?command=get_whos_printing")
	w := get("/api/plugin/whosprinting?command=get_whos_printing")
	assert.JSONEq(t, `{"calls":3}`, w.Body.String())

	store.Flush()
	w = get("/api/plugin/whosprinting?command=list")
	assert.JSONEq(t, `{"calls":4}`, w.Body.String())
}

func TestRateLimiter_PerClient(t *testing.T) {
	r := gin.New()
	r.GET("/", RateLimiter(1, 1, "X-Forwarded-For"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	do := func(ip string) int {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, do("192.0.2.1"))
	assert.Equal(t, http.StatusTooManyRequests, do("192.0.2.1"))
	assert.Equal(t, http.StatusNoContent, do("192.0.2.2"))
}
