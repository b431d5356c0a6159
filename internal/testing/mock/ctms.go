// Package mock serves a fake CTMS API for end-to-end tests.
package mock

import (
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gin-gonic/gin"
)

// CodeListPrefix is where the CTMS API serves simple code lists.
const CodeListPrefix = "/clinops-ws/api/v1/study-design/metadata/codelists/simple/"

// CTMSServer is an in-memory CTMS API. Code lists are global; sites are
// kept per study.
type CTMSServer struct {
	*httptest.Server

	mu        sync.Mutex
	token     string
	down      bool
	codeLists map[string][]map[string]any
	sites     map[string][]map[string]any
	calls     map[string]int
}

// NewCTMSServer starts a server that accepts only the given bearer token.
// An empty token disables authentication.
func NewCTMSServer(token string) *CTMSServer {
	s := &CTMSServer{
		token: token,
		codeLists: map[string][]map[string]any{
			"COUNTRY": {
				{"code": "US", "displayName": "United States", "displayOrder": 1},
				{"code": "CA", "displayName": "Canada", "displayOrder": 2},
				{"code": "MX", "displayName": "Mexico", "displayOrder": 3},
			},
			"SEVERITY": {
				{"code": "MILD", "displayName": "Mild"},
				{"code": "MODERATE", "displayName": "Moderate"},
				{"code": "SEVERE", "displayName": "<b>Severe</b>"},
			},
		},
		sites: map[string][]map[string]any{
			"1": {
				{"id": 101, "name": "Boston General", "status": "active"},
				{"id": 102, "name": "Chicago Research", "status": "active"},
			},
			"2": {
				{"id": 201, "name": "Toronto Clinic", "status": "active"},
			},
		},
		calls: map[string]int{},
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(s.record, s.available, s.authenticate)
	r.GET(CodeListPrefix+":category", s.codeList)
	r.GET("/api/studies/:studyId/sites", s.studySites)

	s.Server = httptest.NewServer(r)
	return s
}

// SetDown makes every request fail with 503 until cleared.
func (s *CTMSServer) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// RotateToken invalidates every token but the new one.
func (s *CTMSServer) RotateToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Calls reports how many requests reached path.
func (s *CTMSServer) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func (s *CTMSServer) record(c *gin.Context) {
	s.mu.Lock()
	s.calls[c.Request.URL.Path]++
	s.mu.Unlock()
	c.Next()
}

func (s *CTMSServer) available(c *gin.Context) {
	s.mu.Lock()
	down := s.down
	s.mu.Unlock()
	if down {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "maintenance"})
		return
	}
	c.Next()
}

func (s *CTMSServer) authenticate(c *gin.Context) {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token != "" && c.GetHeader("Authorization") != "Bearer "+token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.Next()
}

func (s *CTMSServer) codeList(c *gin.Context) {
	s.mu.Lock()
	list, ok := s.codeLists[c.Param("category")]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown category"})
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *CTMSServer) studySites(c *gin.Context) {
	s.mu.Lock()
	list := s.sites[c.Param("studyId")]
	s.mu.Unlock()
	if list == nil {
		list = []map[string]any{}
	}
	c.JSON(http.StatusOK, list)
}
