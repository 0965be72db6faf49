package provider

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// maxResponseBytes bounds how much of a provider response is read.
const maxResponseBytes = 64 << 20

type loggingTransport struct {
	log     *logrus.Entry
	limiter *rate.Limiter
	next    http.RoundTripper
}

// NewHTTPClient returns the outbound client of one provider. Requests are
// throttled to rps per second (unlimited when rps <= 0) and logged without
// their query string, which carries API keys for some providers.
func NewHTTPClient(logger *logrus.Logger, service string, timeout time.Duration, rps float64) *http.Client {
	var limiter *rate.Limiter
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &loggingTransport{
			log: logger.WithFields(logrus.Fields{
				"component": "provider_transport",
				"service":   service,
			}),
			limiter: limiter,
			next:    http.DefaultTransport,
		},
	}
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	log := t.log.WithFields(logrus.Fields{
		"method": req.Method,
		"host":   req.URL.Host,
		"path":   req.URL.Path,
	})

	if t.limiter != nil {
		if err := t.limiter.Wait(req.Context()); err != nil {
			log.WithError(err).Warn("Outbound rate limit wait aborted")
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		log.WithError(err).Error("HTTP request failed")
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"status_code": resp.StatusCode,
		"duration":    time.Since(start),
	}).Debug("HTTP request completed")
	return resp, nil
}

// Do sends req and returns the body of a 2xx response. Transport failures
// and other statuses become ExternalAPIErrors.
func Do(client *http.Client, service, endpoint string, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, NewError(service, endpoint, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, NewError(service, endpoint, resp.StatusCode, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(body)
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return nil, NewError(service, endpoint, resp.StatusCode, fmt.Errorf("unexpected response: %s", snippet))
	}
	return body, nil
}
