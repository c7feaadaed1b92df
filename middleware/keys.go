/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/vasayxtx/go-glob"
)

// RateLimitKeyByRemoteAddr returns a key extraction function
// that uses the host part of the request's remote address as a key.
func RateLimitKeyByRemoteAddr() RateLimitGetKeyFunc {
	return func(r *http.Request) (string, bool, error) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		return host, false, err
	}
}

// RateLimitKeyByHeader returns a key extraction function that uses the value
// of the passed HTTP request header as a key.
// If noBypassEmpty is false, requests with the empty (or missing) header bypass the limiting.
// Otherwise, all such requests share a single window.
func RateLimitKeyByHeader(headerName string, noBypassEmpty bool) RateLimitGetKeyFunc {
	return func(r *http.Request) (string, bool, error) {
		headerVal := strings.TrimSpace(r.Header.Get(headerName))
		if noBypassEmpty {
			return headerVal, false, nil
		}
		return headerVal, headerVal == "", nil
	}
}

// RateLimitKeyWithGlobFilter wraps the passed key extraction function with an include or exclude
// list of glob patterns ("*" matches any sequence of characters).
// When includedKeys is not empty, only matching keys are limited, the rest bypass.
// When excludedKeys is not empty, matching keys bypass the limiting.
// The two lists cannot be used together.
func RateLimitKeyWithGlobFilter(
	getKey RateLimitGetKeyFunc, includedKeys, excludedKeys []string,
) (RateLimitGetKeyFunc, error) {
	if getKey == nil {
		return nil, fmt.Errorf("key extraction function is missing")
	}
	if len(includedKeys) == 0 && len(excludedKeys) == 0 {
		return getKey, nil
	}
	if len(includedKeys) != 0 && len(excludedKeys) != 0 {
		return nil, fmt.Errorf("included and excluded keys cannot be used together")
	}

	makeWithPredefinedKeys := func(keys []string, exclude bool) RateLimitGetKeyFunc {
		compiledKeys := make([]func(s string) bool, 0, len(keys))
		for _, key := range keys {
			compiledKeys = append(compiledKeys, glob.Compile(key))
		}
		return func(r *http.Request) (string, bool, error) {
			key, bypass, getKeyErr := getKey(r)
			if getKeyErr != nil {
				return key, bypass, getKeyErr
			}
			if bypass {
				return key, bypass, nil
			}
			keyFound := false
			for i := range compiledKeys {
				if compiledKeys[i](key) {
					keyFound = true
					break
				}
			}
			return key, keyFound == exclude, nil
		}
	}

	if len(excludedKeys) != 0 {
		return makeWithPredefinedKeys(excludedKeys, true), nil
	}
	return makeWithPredefinedKeys(includedKeys, false), nil
}
