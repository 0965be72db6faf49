// Package cachekey fingerprints provider calls so identical requests share a
// cache entry regardless of how their parameters were assembled.
package cachekey

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Params holds the logical arguments of a provider operation.
type Params map[string]any

// Build returns "<endpoint>:<sha256 hex>" for the endpoint and its canonical
// parameters. Object keys are sorted at every depth, so two parameter sets
// that only differ in key order produce the same key.
func Build(endpoint string, params Params) (string, error) {
	canonical, err := Canonical(params)
	if err != nil {
		return "", fmt.Errorf("canonicalize params for %s: %w", endpoint, err)
	}

	sum := sha256.Sum256([]byte(endpoint + ":" + string(canonical)))
	return endpoint + ":" + hex.EncodeToString(sum[:]), nil
}

// MustBuild is Build for parameter sets known to be JSON encodable.
func MustBuild(endpoint string, params Params) string {
	key, err := Build(endpoint, params)
	if err != nil {
		panic(err)
	}
	return key
}

// Canonical encodes params as JSON with object keys sorted at every level.
// Values are round-tripped through a generic decode first so structs, typed
// maps and nested slices all collapse to the same representation. Numbers are
// kept as literals to avoid float rounding of large integers.
func Canonical(params Params) ([]byte, error) {
	if params == nil {
		params = Params{}
	}

	raw, err := json.Marshal(map[string]any(params))
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	// encoding/json writes map keys in sorted order, which is what makes the
	// second marshal canonical for nested objects too.
	return json.Marshal(generic)
}

// Endpoint extracts the endpoint part of a key built by Build.
func Endpoint(key string) string {
	endpoint, _, found := strings.Cut(key, ":")
	if !found {
		return key
	}
	return endpoint
}
