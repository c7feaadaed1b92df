/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware_test

import (
	"bytes"
	"fmt"
	stdlog "log"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/acronis/go-ratekit/config"
	"github.com/acronis/go-ratekit/middleware"
)

const apiErrDomain = "MyService"

func Example() {
	configReader := bytes.NewReader([]byte(`
rateLimit:
  rate: 1/m
  key:
    type: header
    headerName: X-Client-ID
  retryAfter: auto
`))
	cfg := middleware.NewConfig()
	if err := config.NewDefaultLoader("").LoadFromReader(configReader, config.DataTypeYAML, cfg); err != nil {
		stdlog.Fatal(err)
		return
	}

	// Per-client rate limiting based on the X-Client-ID header, built from the loaded configuration.
	perClientRateLimit, err := middleware.RateLimitWithConfig(cfg, apiErrDomain, middleware.RateLimitOpts{})
	if err != nil {
		stdlog.Fatal(err)
		return
	}

	router := chi.NewRouter()
	// Global rate limiting for all requests.
	router.Use(middleware.MustRateLimit(middleware.Rate{Count: 10, Duration: time.Minute}, apiErrDomain))
	router.With(perClientRateLimit).Get("/hello-world", func(rw http.ResponseWriter, r *http.Request) {
		_, _ = rw.Write([]byte("Hello world!"))
	})

	srv := httptest.NewServer(router)
	defer srv.Close()

	doReq := func(n int, clientID string) {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/hello-world", http.NoBody)
		req.Header.Set("X-Client-ID", clientID)
		resp, _ := http.DefaultClient.Do(req)
		_ = resp.Body.Close()
		fmt.Printf("[%d] GET /hello-world (client %s) %d\n", n, clientID, resp.StatusCode)
	}

	// 1st request finished successfully.
	doReq(1, "alice")
	// 2nd request of the same client is rejected.
	doReq(2, "alice")
	// Another client is not affected.
	doReq(3, "bob")

	// Output:
	// [1] GET /hello-world (client alice) 200
	// [2] GET /hello-world (client alice) 503
	// [3] GET /hello-world (client bob) 200
}
