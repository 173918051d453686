package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable/internal/models"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
)

type validatorStub map[string]*models.JWTClaims

func (v validatorStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := v[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

type observerStub struct {
	path   string
	status int
}

func (o *observerStub) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	o.path = path
	o.status = status
}

func newProtectedRouter(roles ...models.UserRole) *gin.Engine {
	gin.SetMode(gin.TestMode)
	tokens := validatorStub{
		"admin":  {UserID: "u-1", Role: models.RoleAdmin},
		"viewer": {UserID: "u-2", Role: models.RoleViewer},
	}
	router := gin.New()
	router.GET("/protected", JWT(tokens), RequireRoles(roles...), func(c *gin.Context) {
		c.String(http.StatusOK, Claims(c).UserID)
	})
	router.GET("/optional", OptionalJWT(tokens), func(c *gin.Context) {
		if claims := Claims(c); claims != nil {
			c.String(http.StatusOK, claims.UserID)
			return
		}
		c.String(http.StatusOK, "anonymous")
	})
	return router
}

func serve(router *gin.Engine, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestJWTAndRBAC(t *testing.T) {
	router := newProtectedRouter(models.RoleAdmin, models.RoleScheduler, models.RoleAdmin)

	cases := map[string]struct {
		auth   string
		status int
	}{
		"missing header":  {auth: "", status: http.StatusUnauthorized},
		"wrong scheme":    {auth: "Basic admin", status: http.StatusUnauthorized},
		"unknown token":   {auth: "Bearer nope", status: http.StatusUnauthorized},
		"forbidden role":  {auth: "Bearer viewer", status: http.StatusForbidden},
		"allowed role":    {auth: "Bearer admin", status: http.StatusOK},
		"lowercase label": {auth: "bearer admin", status: http.StatusOK},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := serve(router, "/protected", tc.auth)
			assert.Equal(t, tc.status, rec.Code)
		})
	}

	rec := serve(router, "/protected", "Bearer viewer")
	var body struct {
		Error appErrors.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, appErrors.ErrForbidden.Code, body.Error.Code)
	assert.Equal(t, "requires role ADMIN or SCHEDULER", body.Error.Message)
}

func TestOptionalJWT(t *testing.T) {
	router := newProtectedRouter()

	assert.Equal(t, "anonymous", serve(router, "/optional", "").Body.String())
	assert.Equal(t, "anonymous", serve(router, "/optional", "Bearer nope").Body.String())
	assert.Equal(t, "u-2", serve(router, "/optional", "Bearer viewer").Body.String())
}

func TestRequireRolesWithoutJWTIsUnauthorized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/", RequireRoles(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusUnauthorized, serve(router, "/", "").Code)
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	observer := &observerStub{}
	router := gin.New()
	router.Use(Metrics(observer))
	router.GET("/runs/:id", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	serve(router, "/runs/abc", "")
	assert.Equal(t, "/runs/:id", observer.path)
	assert.Equal(t, http.StatusAccepted, observer.status)

	serve(router, "/wp-login.php", "")
	assert.Equal(t, unmatchedRoute, observer.path)
	assert.Equal(t, http.StatusNotFound, observer.status)
}

func TestResponseMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(WithResponseMeta())
	router.GET("/", func(c *gin.Context) {
		SetCacheHit(c, true)
		c.JSON(http.StatusOK, ExtractMeta(c))
	})

	rec := serve(router, "/", "")
	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	assert.Equal(t, true, meta[cacheHitKey])
	assert.Equal(t, solveSourceCache, meta[solveSourceKey])
	assert.Contains(t, meta, processingKey)
}
