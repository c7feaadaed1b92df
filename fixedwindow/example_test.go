/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package fixedwindow_test

import (
	"fmt"
	stdlog "log"
	"time"

	"github.com/acronis/go-ratekit/fixedwindow"
)

func Example() {
	limiter := fixedwindow.New()

	// Allow at most 2 login attempts per client within a one-minute window.
	for attempt := 1; attempt <= 3; attempt++ {
		res, err := limiter.Check("client-1", 2, time.Minute)
		if err != nil {
			stdlog.Fatal(err)
			return
		}
		fmt.Printf("attempt %d: allowed=%t remaining=%d\n", attempt, res.Allowed, res.Remaining)
	}

	// Output:
	// attempt 1: allowed=true remaining=1
	// attempt 2: allowed=true remaining=0
	// attempt 3: allowed=false remaining=0
}
