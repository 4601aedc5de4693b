// File: cmd/arborist/main_test.go
package main

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
}

func TestHandlePanic(t *testing.T) {
	t.Cleanup(resetMocks)

	t.Run("should log the panic and exit", func(t *testing.T) {
		var (
			written  string
			path     string
			exitCode = -1
		)
		osWriteFile = func(name string, data []byte, _ os.FileMode) error {
			path, written = name, string(data)
			return nil
		}
		osExit = func(code int) { exitCode = code }

		func() {
			defer handlePanic()
			panic("boom")
		}()

		assert.Equal(t, panicLogFile, path)
		assert.Contains(t, written, "panic: boom")
		assert.Contains(t, written, "goroutine", "the stack trace is included")
		assert.Equal(t, 2, exitCode)
	})

	t.Run("should exit even when the log cannot be written", func(t *testing.T) {
		exitCode := -1
		osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only") }
		osExit = func(code int) { exitCode = code }

		func() {
			defer handlePanic()
			panic("boom")
		}()
		assert.Equal(t, 2, exitCode)
	})

	t.Run("should do nothing without a panic", func(t *testing.T) {
		osExit = func(int) { require.Fail(t, "unexpected exit") }
		func() {
			defer handlePanic()
		}()
	})
}
