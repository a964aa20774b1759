package pluginhost

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// defaultExecTimeout bounds a single Handle invocation; a plugin that
// hangs (or is written to loop forever) aborts the current request only,
// per spec.md §4.8's "a panic aborts the current request only".
const defaultExecTimeout = 2 * time.Second

// allowedImports is the stdlib-only allowlist plugin source may import.
// No os, net, net/http, os/exec, syscall or unsafe: plugins reach the
// outside world exclusively through the Request/Event boundary.
var allowedImports = map[string]bool{
	"strings":         true,
	"strconv":         true,
	"fmt":             true,
	"math":            true,
	"regexp":          true,
	"encoding/json":   true,
	"encoding/base64": true,
	"time":            true,
	"sort":            true,
	"bytes":           true,
	"errors":          true,
	"unicode":         true,
	"unicode/utf8":    true,
}

// Executor runs plugin source in a sandboxed yaegi interpreter. Each call
// gets a fresh interpreter: plugins don't share interpreter state across
// invocations.
type Executor struct {
	timeout time.Duration
}

// NewExecutor constructs an Executor with the default per-call timeout.
func NewExecutor() *Executor {
	return &Executor{timeout: defaultExecTimeout}
}

// Handle evaluates code and calls its exported Handle(string) (string, error)
// entrypoint with the JSON-encoded event, decoding the returned JSON array
// of requests. A timeout or panic inside the plugin surfaces as an error
// without taking down the host.
func (ex *Executor) Handle(ctx context.Context, code string, event Event) ([]Request, error) {
	if err := validateImports(code); err != nil {
		return nil, fmt.Errorf("invalid plugin imports: %w", err)
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, ex.timeout)
	defer cancel()

	resultChan := make(chan string, 1)
	errChan := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errChan <- fmt.Errorf("plugin panicked: %v", r)
			}
		}()

		result, err := evalHandle(code, string(eventJSON))
		if err != nil {
			errChan <- err
			return
		}

		resultChan <- result
	}()

	select {
	case result := <-resultChan:
		return decodeRequests(result)
	case err := <-errChan:
		return nil, err
	case <-runCtx.Done():
		return nil, fmt.Errorf("plugin execution timed out: %w", runCtx.Err())
	}
}

func evalHandle(code, eventJSON string) (string, error) {
	i := interp.New(interp.Options{})

	if err := i.Use(stdlib.Symbols); err != nil {
		return "", fmt.Errorf("load stdlib symbols: %w", err)
	}

	if _, err := i.Eval(wrapCode(code)); err != nil {
		return "", fmt.Errorf("evaluate plugin code: %w", err)
	}

	handleFn, err := i.Eval("main.Handle")
	if err != nil {
		return "", fmt.Errorf("Handle function not found: %w", err)
	}

	handle, ok := handleFn.Interface().(func(string) (string, error))
	if !ok {
		return "", fmt.Errorf("Handle has incorrect signature (expected: func(string) (string, error))")
	}

	return handle(eventJSON)
}

func decodeRequests(result string) ([]Request, error) {
	result = strings.TrimSpace(result)
	if result == "" {
		return nil, nil
	}

	var requests []Request
	if err := json.Unmarshal([]byte(result), &requests); err != nil {
		return nil, fmt.Errorf("decode plugin response: %w", err)
	}

	return requests, nil
}

// validateImports rejects any import not on the stdlib allowlist, the
// same line-scanning approach as the teacher's yaegi executor.
func validateImports(code string) error {
	lines := strings.Split(code, "\n")

	var imports []string

	inBlock := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "import (") {
			inBlock = true
			continue
		}

		if inBlock && strings.HasPrefix(trimmed, ")") {
			inBlock = false
			continue
		}

		switch {
		case inBlock:
			imports = append(imports, strings.Trim(trimmed, `"`))
		case strings.HasPrefix(trimmed, "import "):
			imports = append(imports, strings.Trim(strings.TrimPrefix(trimmed, "import "), `"`))
		}
	}

	var forbidden []string

	for _, pkg := range imports {
		if pkg == "" {
			continue
		}

		if !allowedImports[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}

	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports: %v", forbidden)
	}

	return nil
}

// wrapCode ensures the plugin source is a standalone main package, so a
// plugin author can write just the Handle function and a plain file of
// helpers without the package boilerplate.
func wrapCode(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}

	return fmt.Sprintf("package main\n\n%s\n", code)
}
