package mockhttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
)

// Handler handles a request and returns true if it wrote a response.
type Handler func(w http.ResponseWriter, r *http.Request) bool

// ServerBuilder builds stub servers with configurable behavior.
type ServerBuilder struct {
	handlers    []Handler
	defaultCode int
}

// New creates a new ServerBuilder.
func New() *ServerBuilder {
	return &ServerBuilder{defaultCode: http.StatusNotFound}
}

// Handler adds a custom handler function.
func (b *ServerBuilder) Handler(h Handler) *ServerBuilder {
	b.handlers = append(b.handlers, h)
	return b
}

// JSON responds 200 with response encoded as JSON for method and path.
func (b *ServerBuilder) JSON(method, path string, response any) *ServerBuilder {
	return b.JSONWithStatus(method, path, http.StatusOK, response)
}

// JSONWithStatus responds with code and response encoded as JSON.
func (b *ServerBuilder) JSONWithStatus(method, path string, code int, response any) *ServerBuilder {
	return b.Route(method, path, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, code, response)
	})
}

// Detail responds with code and the gateway error body {"detail": detail}.
func (b *ServerBuilder) Detail(method, path string, code int, detail string) *ServerBuilder {
	return b.JSONWithStatus(method, path, code, map[string]string{"detail": detail})
}

// Route adds a handler matching method and path. An empty method matches any.
func (b *ServerBuilder) Route(method, path string, handler http.HandlerFunc) *ServerBuilder {
	return b.Handler(func(w http.ResponseWriter, r *http.Request) bool {
		if (method != "" && r.Method != method) || !matchPath(r.URL.Path, path) {
			return false
		}
		handler(w, r)
		return true
	})
}

// RequirePoP rejects requests to PoP-protected paths that lack a bearer
// token or an X-Pop-Signature header, the way the gateway does.
func (b *ServerBuilder) RequirePoP(paths ...string) *ServerBuilder {
	return b.Handler(func(w http.ResponseWriter, r *http.Request) bool {
		if len(paths) > 0 && !anyMatch(r.URL.Path, paths) {
			return false
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			writeJSON(w, http.StatusForbidden, map[string]string{"detail": "Not authenticated"})
			return true
		}
		if r.Header.Get("X-Pop-Signature") == "" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"detail": []map[string]any{{"loc": []string{"header", "x-pop-signature"}, "msg": "field required"}},
			})
			return true
		}
		return false
	})
}

// Block holds requests to path until release is closed. entered receives one
// value per blocked request, if non-nil.
func (b *ServerBuilder) Block(path string, entered chan<- struct{}, release <-chan struct{}) *ServerBuilder {
	return b.Handler(func(w http.ResponseWriter, r *http.Request) bool {
		if !matchPath(r.URL.Path, path) {
			return false
		}
		if entered != nil {
			entered <- struct{}{}
		}
		select {
		case <-release:
		case <-r.Context().Done():
		}
		return false
	})
}

// Record captures every request into c.
func (b *ServerBuilder) Record(c *Capture) *ServerBuilder {
	return b.Handler(func(w http.ResponseWriter, r *http.Request) bool {
		c.record(r)
		return false
	})
}

// Build starts the server.
func (b *ServerBuilder) Build() *httptest.Server {
	handlers := append([]Handler(nil), b.handlers...)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, h := range handlers {
			if h(w, r) {
				return
			}
		}
		w.WriteHeader(b.defaultCode)
	}))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// matchPath supports exact match and prefix match with a "*" suffix.
func matchPath(requestPath, pattern string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(requestPath, prefix)
	}
	return requestPath == pattern
}

func anyMatch(requestPath string, patterns []string) bool {
	for _, p := range patterns {
		if matchPath(requestPath, p) {
			return true
		}
	}
	return false
}

// Capture stores requests for test assertions.
type Capture struct {
	mu       sync.Mutex
	requests []CapturedRequest
}

// CapturedRequest holds data from a captured HTTP request.
type CapturedRequest struct {
	Method  string
	Path    string
	Headers http.Header
	Query   url.Values
}

func (c *Capture) record(r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, CapturedRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Headers: r.Header.Clone(),
		Query:   r.URL.Query(),
	})
}

// Count returns the number of captured requests.
func (c *Capture) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// CountPath returns the number of captured requests to path.
func (c *Capture) CountPath(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.requests {
		if r.Path == path {
			n++
		}
	}
	return n
}

// Last returns the most recent captured request, or nil if none.
func (c *Capture) Last() *CapturedRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) == 0 {
		return nil
	}
	r := c.requests[len(c.requests)-1]
	return &r
}

// All returns all captured requests.
func (c *Capture) All() []CapturedRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CapturedRequest(nil), c.requests...)
}
