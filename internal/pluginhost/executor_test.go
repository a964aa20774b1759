package pluginhost

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const echoPlugin = `
func Handle(eventJSON string) (string, error) {
	return "[]", nil
}
`

func TestExecutorHandleReturnsNoRequestsForEmptyResponse(t *testing.T) {
	ex := NewExecutor()

	requests, err := ex.Handle(context.Background(), echoPlugin, Event{Kind: EventIntervalUpdate})
	require.NoError(t, err)
	assert.Empty(t, requests)
}

const enqueuePlugin = `
func Handle(eventJSON string) (string, error) {
	return ` + "`" + `[{"kind":"Enqueue","payload":{"urls":["https://example.com/a"]}}]` + "`" + `, nil
}
`

func TestExecutorHandleDecodesRequests(t *testing.T) {
	ex := NewExecutor()

	requests, err := ex.Handle(context.Background(), enqueuePlugin, Event{Kind: EventIntervalUpdate})
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, RequestEnqueue, requests[0].Kind)

	var payload EnqueuePayload
	require.NoError(t, requests[0].decode(&payload))
	assert.Equal(t, []string{"https://example.com/a"}, payload.URLs)
}

const forbiddenImportPlugin = `
import "os"

func Handle(eventJSON string) (string, error) {
	os.Exit(1)
	return "[]", nil
}
`

func TestExecutorRejectsForbiddenImport(t *testing.T) {
	ex := NewExecutor()

	_, err := ex.Handle(context.Background(), forbiddenImportPlugin, Event{Kind: EventIntervalUpdate})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forbidden imports")
}

const panickingPlugin = `
func Handle(eventJSON string) (string, error) {
	var m map[string]int
	m["boom"] = 1
	return "[]", nil
}
`

func TestExecutorRecoversPluginPanic(t *testing.T) {
	ex := NewExecutor()

	_, err := ex.Handle(context.Background(), panickingPlugin, Event{Kind: EventIntervalUpdate})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

const hangingPlugin = `
func Handle(eventJSON string) (string, error) {
	for {
	}
}
`

func TestExecutorTimesOutHangingPlugin(t *testing.T) {
	ex := &Executor{timeout: 50 * time.Millisecond}

	_, err := ex.Handle(context.Background(), hangingPlugin, Event{Kind: EventIntervalUpdate})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestValidateImportsAllowsStdlibSubset(t *testing.T) {
	err := validateImports(`
import (
	"strings"
	"encoding/json"
)

func Handle(e string) (string, error) { return "[]", nil }
`)
	assert.NoError(t, err)
}

func TestValidateImportsRejectsMixedBlock(t *testing.T) {
	err := validateImports(`
import (
	"strings"
	"net/http"
)

func Handle(e string) (string, error) { return "[]", nil }
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "net/http")
}

func TestWrapCodeLeavesExistingPackageAlone(t *testing.T) {
	code := "package main\n\nfunc Handle(e string) (string, error) { return \"[]\", nil }\n"
	assert.Equal(t, code, wrapCode(code))
}

func TestWrapCodeAddsPackageMain(t *testing.T) {
	code := "func Handle(e string) (string, error) { return \"[]\", nil }"
	wrapped := wrapCode(code)
	assert.Contains(t, wrapped, "package main")
	assert.Contains(t, wrapped, "func Handle")
}
