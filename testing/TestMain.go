// Package testing switches the fuelsync binaries into test mode when a test imports it.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"

	"github.com/fuelsync/fuelsync/internal/app"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv(app.TestModeEnv, "1")
		app.RefreshTestMode()
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
