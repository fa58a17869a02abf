package support

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cucumber/godog"
)

// iRunCommand runs a shell-free command line with placeholders substituted.
func (testCtx *TestContext) iRunCommand(command string) error {
	command = testCtx.Substitute(command)
	testCtx.LastCommand = command

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return errors.New("empty command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = testCtx.WorkingDir
	cmd.Env = append(os.Environ(), testCtx.EnvVars...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	testCtx.LastDuration = time.Since(start)
	testCtx.LastOutput = stdout.String()
	testCtx.LastStderr = stderr.String()
	testCtx.LastError = err

	var exitError *exec.ExitError
	switch {
	case err == nil:
		testCtx.LastExitCode = 0
	case errors.As(err, &exitError):
		testCtx.LastExitCode = exitError.ExitCode()
	default:
		testCtx.LastExitCode = -1
	}
	return nil
}

func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastExitCode != 0 {
		return fmt.Errorf("command %q failed with exit code %d: %v\nstdout: %s\nstderr: %s",
			testCtx.LastCommand, testCtx.LastExitCode, testCtx.LastError, testCtx.LastOutput, testCtx.LastStderr)
	}
	return nil
}

func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastExitCode == 0 {
		return fmt.Errorf("command %q succeeded when it should have failed\nOutput: %s",
			testCtx.LastCommand, testCtx.LastOutput)
	}
	return nil
}

// theOutputShouldContain checks stdout and stderr.
func (testCtx *TestContext) theOutputShouldContain(expected string) error {
	expected = testCtx.Substitute(expected)
	if !strings.Contains(testCtx.LastOutput+testCtx.LastStderr, expected) {
		return fmt.Errorf("output does not contain '%s'\nActual output: %s%s", expected, testCtx.LastOutput, testCtx.LastStderr)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldNotContain(unexpected string) error {
	if strings.Contains(testCtx.LastOutput, unexpected) {
		return fmt.Errorf("output unexpectedly contains '%s'\nActual output: %s", unexpected, testCtx.LastOutput)
	}
	return nil
}

// theErrorShouldMention matches case insensitively against stderr.
func (testCtx *TestContext) theErrorShouldMention(text string) error {
	if testCtx.LastExitCode == 0 {
		return fmt.Errorf("no error occurred, but expected error containing '%s'", text)
	}
	if !strings.Contains(strings.ToLower(testCtx.LastStderr), strings.ToLower(text)) {
		return fmt.Errorf("error does not contain '%s'\nActual error: %s", text, testCtx.LastStderr)
	}
	return nil
}

func (testCtx *TestContext) lastJSON() (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(testCtx.LastOutput), &data); err != nil {
		return nil, fmt.Errorf("output is not a JSON object: %w\nOutput: %s", err, testCtx.LastOutput)
	}
	return data, nil
}

func (testCtx *TestContext) theOutputShouldBeValidJSON() error {
	_, err := testCtx.lastJSON()
	return err
}

func (testCtx *TestContext) theJSONShouldContain(field string) error {
	data, err := testCtx.lastJSON()
	if err != nil {
		return err
	}
	_, err = lookupField(data, field)
	return err
}

func (testCtx *TestContext) theJSONFieldShouldBe(field, expected string) error {
	data, err := testCtx.lastJSON()
	if err != nil {
		return err
	}
	return fieldEquals(data, field, testCtx.Substitute(expected))
}

// lookupField walks a dotted path; numeric parts index arrays.
func lookupField(data any, field string) (any, error) {
	current := data
	for _, part := range strings.Split(field, ".") {
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("field '%s' not found in JSON", field)
			}
			current = v
		case []any:
			var i int
			if _, err := fmt.Sscanf(part, "%d", &i); err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("invalid index '%s' in '%s'", part, field)
			}
			current = node[i]
		default:
			return nil, fmt.Errorf("cannot navigate into '%s' of '%s'", part, field)
		}
	}
	return current, nil
}

func fieldEquals(data any, field, expected string) error {
	v, err := lookupField(data, field)
	if err != nil {
		return err
	}
	if got := fmt.Sprint(v); got != expected {
		return fmt.Errorf("field '%s' is %q, want %q", field, got, expected)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldBeValidCSVWithRows(rows int) error {
	records, err := csv.NewReader(strings.NewReader(testCtx.LastOutput)).ReadAll()
	if err != nil {
		return fmt.Errorf("output is not valid CSV: %w", err)
	}
	if len(records) != rows+1 {
		return fmt.Errorf("CSV has %d data rows, want %d", len(records)-1, rows)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldExist(name string) error {
	path := testCtx.Path(name)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("file %s does not exist: %w", path, err)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldNotExist(name string) error {
	path := testCtx.Path(name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("file %s exists", path)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldContain(name, expected string) error {
	path := testCtx.Path(name)
	data, err := os.ReadFile(path) //nolint:gosec // G304: scenario controlled path
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !strings.Contains(string(data), expected) {
		return fmt.Errorf("file %s does not contain '%s'\nContent: %s", path, expected, data)
	}
	return nil
}

func (testCtx *TestContext) theEnvironmentVariableIsSetTo(name, value string) error {
	testCtx.AddEnvVar(name, testCtx.Substitute(value))
	return nil
}

func (testCtx *TestContext) aConfigFileWithContent(name string, content *godog.DocString) error {
	path := testCtx.Path(name)
	if err := os.WriteFile(path, []byte(content.Content), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// RegisterCommonSteps registers command, output and file steps.
func (testCtx *TestContext) RegisterCommonSteps(sc *godog.ScenarioContext) {
	sc.Step(`^I run "([^"]*)"$`, testCtx.iRunCommand)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)
	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should not contain "([^"]*)"$`, testCtx.theOutputShouldNotContain)
	sc.Step(`^the error should mention "([^"]*)"$`, testCtx.theErrorShouldMention)
	sc.Step(`^the output should be valid JSON$`, testCtx.theOutputShouldBeValidJSON)
	sc.Step(`^the JSON should contain "([^"]*)"$`, testCtx.theJSONShouldContain)
	sc.Step(`^the JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theJSONFieldShouldBe)
	sc.Step(`^the output should be valid CSV with (\d+) rows?$`, testCtx.theOutputShouldBeValidCSVWithRows)
	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
	sc.Step(`^the file "([^"]*)" should not exist$`, testCtx.theFileShouldNotExist)
	sc.Step(`^the file "([^"]*)" should contain "([^"]*)"$`, testCtx.theFileShouldContain)
	sc.Step(`^the environment variable "([^"]*)" is set to "([^"]*)"$`, testCtx.theEnvironmentVariableIsSetTo)
	sc.Step(`^a config file "([^"]*)" with content:$`, testCtx.aConfigFileWithContent)
}
