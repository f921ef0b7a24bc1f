package http

import "net/http"

// HTTPClient abstracts the single method the token exchanger and the
// chat-completions pipeline need, so tests and the Workers runtime can swap it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
