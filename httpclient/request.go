package httpclient

import "time"

// Request describes one outbound request.
type Request struct {
	Method string
	// Path is resolved against the client's BaseURL unless it is absolute.
	Path    string
	Headers map[string]string
	// Body is sent as is for []byte and JSON-encoded otherwise.
	Body any
	// OnRetry is called before each retry of this request.
	OnRetry func(attempt int, err error, backoff time.Duration)
}

// Response is a reply that was read in full.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	// Attempts is how many sends it took, retries included.
	Attempts int
}

func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
