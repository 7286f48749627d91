package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestServeCommand(t *testing.T) {
	t.Run("should serve health until cancelled", func(t *testing.T) {
		resetForTest(t)
		useLauncher(t, failingLauncher{err: errors.New("unused")})
		addr := freeAddr(t)
		cfg := testConfig(t, "")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan error, 1)
		go func() {
			_, err := executeCommand(t, ctx, "serve", "--config", cfg, "--addr", addr)
			done <- err
		}()

		client := &http.Client{Timeout: time.Second}
		defer client.CloseIdleConnections()
		require.Eventually(t, func() bool {
			resp, err := client.Get(fmt.Sprintf("http://%s/health", addr))
			if err != nil {
				return false
			}
			resp.Body.Close()
			return resp.StatusCode == http.StatusOK
		}, 5*time.Second, 50*time.Millisecond)

		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("serve did not stop on cancel")
		}
	})

	t.Run("should fail when the address is taken", func(t *testing.T) {
		resetForTest(t)
		useLauncher(t, failingLauncher{err: errors.New("unused")})
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer ln.Close()

		_, err = executeCommand(t, context.Background(), "serve", "--config", testConfig(t, ""), "--addr", ln.Addr().String())
		assert.ErrorContains(t, err, "listening on")
	})
}
