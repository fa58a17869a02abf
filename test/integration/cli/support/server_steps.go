package support

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cucumber/godog"

	"github.com/blacksoil/HomographyAnalyzer/internal/server"
)

func (testCtx *TestContext) theServerIsRunning() error {
	return testCtx.startServer(nil)
}

func (testCtx *TestContext) theServerIsRunningWithRequestsPerMinute(limit int) error {
	return testCtx.startServer(func(c *server.Config) {
		c.RateLimit = server.RateLimitConfig{Enabled: true, RequestsPerMinute: limit}
	})
}

func (testCtx *TestContext) startServer(mutate func(*server.Config)) error {
	if testCtx.HTTPTestServer != nil {
		testCtx.HTTPTestServer.Close()
	}
	srv, err := StartHTTPTestServer(mutate)
	if err != nil {
		return err
	}
	testCtx.HTTPTestServer = srv
	testCtx.Vars["server"] = srv.URL
	return nil
}

func (testCtx *TestContext) do(req *http.Request) error {
	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(body)
	testCtx.LastHTTPHeaders = make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		testCtx.LastHTTPHeaders[k] = resp.Header.Get(k)
	}
	return nil
}

func (testCtx *TestContext) iSendAGETRequestTo(path string) error {
	if testCtx.HTTPTestServer == nil {
		return fmt.Errorf("server is not running")
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, testCtx.HTTPTestServer.URL+path, nil)
	if err != nil {
		return err
	}
	return testCtx.do(req)
}

// iPostImagesTo uploads two image files as the reference and target fields. path
// may carry a query string.
func (testCtx *TestContext) iPostImagesTo(reference, target, path string) error {
	if testCtx.HTTPTestServer == nil {
		return fmt.Errorf("server is not running")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for field, p := range map[string]string{"reference": reference, "target": target} {
		p = testCtx.Substitute(p)
		data, err := os.ReadFile(p) //nolint:gosec // G304: scenario controlled path
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}
		part, err := mw.CreateFormFile(field, filepath.Base(p))
		if err != nil {
			return err
		}
		if _, err := part.Write(data); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost,
		testCtx.HTTPTestServer.URL+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return testCtx.do(req)
}

func (testCtx *TestContext) theResponseStatusShouldBe(code int) error {
	if testCtx.LastHTTPStatusCode != code {
		return fmt.Errorf("expected status %d, got %d\nBody: %s", code, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, expected string) error {
	if got := testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)]; got != expected {
		return fmt.Errorf("header %s is %q, want %q", name, got, expected)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(expected string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, expected) {
		return fmt.Errorf("response does not contain '%s'\nBody: %s", expected, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseJSONFieldShouldBe(field, expected string) error {
	var data map[string]any
	if err := json.Unmarshal([]byte(testCtx.LastHTTPResponse), &data); err != nil {
		return fmt.Errorf("response is not a JSON object: %w", err)
	}
	return fieldEquals(data, field, expected)
}

// RegisterServerSteps registers the HTTP steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the server is running$`, testCtx.theServerIsRunning)
	sc.Step(`^the server is running with a limit of (\d+) requests? per minute$`, testCtx.theServerIsRunningWithRequestsPerMinute)
	sc.Step(`^I send a GET request to "([^"]*)"$`, testCtx.iSendAGETRequestTo)
	sc.Step(`^I post "([^"]*)" and "([^"]*)" to "([^"]*)"$`, testCtx.iPostImagesTo)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseJSONFieldShouldBe)
}
