package app

import (
	"os"
	"sync"
	"sync/atomic"
)

// TestModeEnv makes both binaries return from main before touching Postgres or Redis.
const TestModeEnv = "FUELSYNC_TEST_MODE"

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

func detectTestMode() {
	testModeFlag.Store(os.Getenv(TestModeEnv) == "1")
}

// InTestMode reports whether runtime side effects (pools, listeners, workers) are skipped.
func InTestMode() bool {
	testModeOnce.Do(detectTestMode)
	return testModeFlag.Load()
}

// RefreshTestMode re-reads the flag after the environment changed.
func RefreshTestMode() {
	testModeOnce.Do(func() {})
	detectTestMode()
}
