package nodeclient

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/rgbcustody/walletcore/pkg/metrics"
)

// retryTransport wraps an http.RoundTripper with a fixed retry policy:
// up to maxAttempts total tries, exponential backoff starting at
// backoffBase, retried only on connection errors and the status codes
// the wallet node returns for transient overload (429, 500, 502, 503,
// 504).
type retryTransport struct {
	base        http.RoundTripper
	maxAttempts int
	backoffBase time.Duration
}

var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
	}

	var resp *http.Response
	var err error

	for attempt := 0; attempt < t.maxAttempts; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		resp, err = t.base.RoundTrip(req)

		retry := false
		if err != nil {
			retry = true
		} else if retryableStatus[resp.StatusCode] {
			retry = true
		}

		if !retry || attempt == t.maxAttempts-1 {
			return resp, err
		}

		metrics.NodeRetriesTotal.WithLabelValues(req.URL.Path).Inc()
		if resp != nil {
			resp.Body.Close()
		}

		select {
		case <-time.After(t.backoffBase * time.Duration(1<<attempt)):
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}

	return resp, err
}
