package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocatorsCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("should list the built-in registry", func(t *testing.T) {
		resetForTest(t)
		out, err := executeCommand(t, ctx, "locators", "check", "--config", testConfig(t, ""))
		require.NoError(t, err)
		assert.Contains(t, out, "form.submit (")
		assert.Contains(t, out, "pending.complete (")
		assert.Contains(t, out, "Using the built-in locators.")
	})

	t.Run("should merge a valid override file", func(t *testing.T) {
		resetForTest(t)
		path := filepath.Join(t.TempDir(), "locators.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`targets:
  form.submit:
    - key: form.submit.only
      strategy: structure
      xpath: "//form//button[last()]"
`), 0o600))

		out, err := executeCommand(t, ctx, "locators", "check", "--config", testConfig(t, ""), "--file", path)
		require.NoError(t, err)
		assert.Contains(t, out, "form.submit (1)\n  - form.submit.only (structure)\n")
		assert.Contains(t, out, path+" is valid.")
	})

	t.Run("should reject a broken override file", func(t *testing.T) {
		resetForTest(t)
		path := filepath.Join(t.TempDir(), "locators.yaml")
		require.NoError(t, os.WriteFile(path, []byte("targets: {}\n"), 0o600))

		_, err := executeCommand(t, ctx, "locators", "check", "--config", testConfig(t, ""), "--file", path)
		assert.ErrorContains(t, err, "defines no targets")
	})
}
