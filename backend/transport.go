package backend

import "net/http"

const DefaultAPIKeyHeader = "X-API-Key"

// APIKeyTransport adds the static API key header to every request.
type APIKeyTransport struct {
	Header string
	Key    string
	// Base is the underlying transport. http.DefaultTransport when nil.
	Base http.RoundTripper
}

func (t *APIKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Key == "" {
		return t.base().RoundTrip(req)
	}
	header := t.Header
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	r := req.Clone(req.Context())
	r.Header.Set(header, t.Key)
	return t.base().RoundTrip(r)
}

func (t *APIKeyTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}
