// Package guard forces test mode on for any test binary that imports it, so
// composition roots return before touching real infrastructure.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("PAWSUITE_TEST_MODE") == "" {
			_ = os.Setenv("PAWSUITE_TEST_MODE", "1")
		}
	})
}
