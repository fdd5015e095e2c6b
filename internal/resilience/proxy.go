package resilience

import (
	"sync"
)

// Request is the slice of an outbound fetch request the middleware touches:
// the URL, the assigned proxy, and the recorded retry delay schedule.
type Request struct {
	URL      string
	Proxy    string
	Attempt  int
	Schedule []string
	Meta     map[string]any
}

// ProxyRotator assigns proxies round-robin to requests that do not already
// carry one. Re-submitting a request under retry keeps its original proxy.
type ProxyRotator struct {
	mu      sync.Mutex
	proxies []string
	next    int
}

// NewProxyRotator builds a rotator over the ordered endpoint list. An empty
// list yields a rotator that leaves requests untouched.
func NewProxyRotator(proxies []string) *ProxyRotator {
	cleaned := make([]string, 0, len(proxies))
	for _, p := range proxies {
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return &ProxyRotator{proxies: cleaned}
}

// Assign sets the request's proxy if it has none and returns the endpoint
// used. A request that already carries a proxy is left as-is.
func (r *ProxyRotator) Assign(req *Request) string {
	if req == nil {
		return ""
	}
	if req.Proxy != "" {
		return req.Proxy
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.proxies) == 0 {
		return ""
	}
	proxy := r.proxies[r.next%len(r.proxies)]
	r.next++
	req.Proxy = proxy
	return proxy
}

// Size returns the number of configured endpoints.
func (r *ProxyRotator) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.proxies)
}
