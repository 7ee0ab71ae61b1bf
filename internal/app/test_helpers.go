package app

import (
	"os"
	"testing"

	"github.com/vk/pkgplan/internal/registry"
	"github.com/vk/pkgplan/internal/testutil"
)

// SetupAppTest creates a new app instance for system testing. Logs are
// printed when PKGPLAN_TEST_LOGS=true.
func SetupAppTest(t *testing.T, cfg *Config, modules ...registry.Module) (*App, *testutil.SafeBuffer) {
	t.Helper()

	logBuffer := &testutil.SafeBuffer{}
	cfg.LogLevel = "debug"
	testApp := NewApp(logBuffer, cfg, modules...)

	t.Cleanup(func() {
		if os.Getenv("PKGPLAN_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})

	return testApp, logBuffer
}
