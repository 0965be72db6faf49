package handlers

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pulserank/apicache/internal/provider"
)

const userIDHeader = "X-User-ID"

type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func required(q url.Values, name string) (string, error) {
	v := strings.TrimSpace(q.Get(name))
	if v == "" {
		return "", badRequest{fmt.Sprintf("%s is required", name)}
	}
	return v, nil
}

func requiredList(q url.Values, name string) ([]string, error) {
	var out []string
	for _, v := range q[name] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	if len(out) == 0 {
		return nil, badRequest{fmt.Sprintf("at least one %s is required", name)}
	}
	return out, nil
}

func intParam(q url.Values, name string, def int) (int, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, badRequest{fmt.Sprintf("%s must be a non-negative integer", name)}
	}
	return n, nil
}

// callOptions reads the per-request cache controls shared by every SEO
// data route.
func callOptions(r *http.Request) (provider.Options, error) {
	q := r.URL.Query()
	opts := provider.Options{UserID: q.Get("userId")}
	if opts.UserID == "" {
		opts.UserID = r.Header.Get(userIDHeader)
	}
	if v := q.Get("forceRefresh"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, badRequest{"forceRefresh must be a boolean"}
		}
		opts.ForceRefresh = b
	}
	maxHits, err := intParam(q, "maxHits", 0)
	if err != nil {
		return opts, err
	}
	opts.MaxHits = maxHits
	return opts, nil
}
