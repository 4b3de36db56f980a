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
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cucumber/godog"
)

// theBundledCorrespondenceFilesAreAvailable checks the testdata matches directory.
func (testCtx *TestContext) theBundledCorrespondenceFilesAreAvailable() error {
	for _, name := range []string{"demo.csv", "demo.json", "demo.yaml", "seven.csv"} {
		path := filepath.Join(testCtx.MatchesDir, name)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("required correspondence file not found: %s", path)
		}
	}
	return nil
}

// aCorrespondenceFileWith writes a docstring to a file in the temp directory.
func (testCtx *TestContext) aCorrespondenceFileWith(name string, content *godog.DocString) error {
	path := filepath.Join(testCtx.TempDir, name)
	if err := os.WriteFile(path, []byte(content.Content), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	testCtx.LastDocFile = path
	return nil
}

// trackOutputFiles registers the files a CLI invocation writes so that
// Cleanup removes them, including ones written outside the temp directory.
func (testCtx *TestContext) trackOutputFiles(args []string) {
	for i, arg := range args {
		switch {
		case arg == "--output" || arg == "-o" || arg == "--save":
			if i+1 < len(args) {
				testCtx.TrackFile(args[i+1])
			}
		case strings.HasPrefix(arg, "--output="), strings.HasPrefix(arg, "--save="):
			testCtx.TrackFile(arg[strings.Index(arg, "=")+1:])
		case arg == "init" && i > 0 && args[i-1] == "config":
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				testCtx.TrackFile(args[i+1])
			} else {
				testCtx.TrackFile("epipolar.yaml")
			}
		}
	}
}

// iRunCommand executes a command and stores the result.
func (testCtx *TestContext) iRunCommand(command string) error {
	command = testCtx.substituteCommandVariables(command)

	testCtx.LastCommand = command
	testCtx.LastStartTime = time.Now()

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return errors.New("empty command")
	}
	if parts[0] == "epipolar" {
		parts[0] = testCtx.binaryPath()
		testCtx.trackOutputFiles(parts[1:])
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = testCtx.WorkingDir
	cmd.Env = append(os.Environ(), testCtx.EnvVars...)

	output, err := cmd.CombinedOutput()
	testCtx.LastOutput = string(output)
	testCtx.LastError = err
	testCtx.LastDuration = time.Since(testCtx.LastStartTime)

	if err != nil {
		exitError := &exec.ExitError{}
		if errors.As(err, &exitError) {
			testCtx.LastExitCode = exitError.ExitCode()
		} else {
			testCtx.LastExitCode = -1
		}
	} else {
		testCtx.LastExitCode = 0
	}

	return nil
}

// theCommandShouldSucceed verifies the command succeeded.
func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastExitCode != 0 {
		return fmt.Errorf("command failed with exit code %d: %w\nOutput: %s",
			testCtx.LastExitCode, testCtx.LastError, testCtx.LastOutput)
	}
	return nil
}

// theCommandShouldFail verifies the command failed.
func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastExitCode == 0 {
		return fmt.Errorf("command succeeded when it should have failed\nOutput: %s", testCtx.LastOutput)
	}
	return nil
}

// theOutputShouldContain verifies the output contains specific text.
func (testCtx *TestContext) theOutputShouldContain(expectedText string) error {
	if !strings.Contains(testCtx.LastOutput, expectedText) {
		return fmt.Errorf("output does not contain '%s'\nActual output: %s", expectedText, testCtx.LastOutput)
	}
	return nil
}

// theOutputShouldNotContain verifies the output does not contain specific text.
func (testCtx *TestContext) theOutputShouldNotContain(text string) error {
	if strings.Contains(testCtx.LastOutput, text) {
		return fmt.Errorf("output unexpectedly contains '%s'\nActual output: %s", text, testCtx.LastOutput)
	}
	return nil
}

// jsonOutput extracts the JSON document from the command output, skipping
// anything printed before it.
func (testCtx *TestContext) jsonOutput() (map[string]any, error) {
	output := strings.TrimSpace(testCtx.LastOutput)
	jsonStart := strings.IndexAny(output, "{[")
	if jsonStart == -1 {
		return nil, fmt.Errorf("no JSON found in output: %s", testCtx.LastOutput)
	}

	dec := json.NewDecoder(strings.NewReader(output[jsonStart:]))
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("output is not valid JSON: %w\nOutput: %s", err, output)
	}
	return data, nil
}

// theOutputShouldBeValidJSON verifies the output is valid JSON.
func (testCtx *TestContext) theOutputShouldBeValidJSON() error {
	_, err := testCtx.jsonOutput()
	return err
}

// theJSONShouldContain verifies JSON contains a specific field.
func (testCtx *TestContext) theJSONShouldContain(field string) error {
	data, err := testCtx.jsonOutput()
	if err != nil {
		return err
	}
	_, err = lookupField(data, field)
	return err
}

// theJSONFieldShouldBe compares a JSON field with its expected textual value.
func (testCtx *TestContext) theJSONFieldShouldBe(field, expected string) error {
	data, err := testCtx.jsonOutput()
	if err != nil {
		return err
	}
	return fieldShouldBe(data, field, expected)
}

// theJSONArrayShouldHaveElements checks the length of a JSON array field.
func (testCtx *TestContext) theJSONArrayShouldHaveElements(field string, n int) error {
	data, err := testCtx.jsonOutput()
	if err != nil {
		return err
	}
	val, err := lookupField(data, field)
	if err != nil {
		return err
	}
	arr, ok := val.([]any)
	if !ok {
		return fmt.Errorf("field '%s' is not an array", field)
	}
	if len(arr) != n {
		return fmt.Errorf("field '%s' has %d elements, want %d", field, len(arr), n)
	}
	return nil
}

// lookupField resolves a dotted path such as "ransac.seed".
func lookupField(data map[string]any, field string) (any, error) {
	parts := strings.Split(field, ".")
	var current any = data
	for i, part := range parts {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cannot navigate into non-object field '%s'", strings.Join(parts[:i], "."))
		}
		val, exists := obj[part]
		if !exists {
			return nil, fmt.Errorf("field '%s' not found in JSON", strings.Join(parts[:i+1], "."))
		}
		current = val
	}
	return current, nil
}

// fieldShouldBe compares numbers numerically and everything else as text.
func fieldShouldBe(data map[string]any, field, expected string) error {
	val, err := lookupField(data, field)
	if err != nil {
		return err
	}
	switch v := val.(type) {
	case float64:
		want, err := strconv.ParseFloat(expected, 64)
		if err != nil {
			return fmt.Errorf("field '%s' is numeric, cannot compare with %q", field, expected)
		}
		if v != want {
			return fmt.Errorf("field '%s' = %v, want %v", field, v, want)
		}
	default:
		if got := fmt.Sprint(v); got != expected {
			return fmt.Errorf("field '%s' = %q, want %q", field, got, expected)
		}
	}
	return nil
}

// theOutputShouldBeValidCSV verifies output is CSV with the report header.
func (testCtx *TestContext) theOutputShouldBeValidCSV() error {
	records, err := csv.NewReader(strings.NewReader(testCtx.LastOutput)).ReadAll()
	if err != nil {
		return fmt.Errorf("output is not valid CSV: %w\nOutput: %s", err, testCtx.LastOutput)
	}
	if len(records) == 0 {
		return errors.New("CSV output is empty")
	}
	if got := strings.Join(records[0], ","); got != "index,x1,y1,x2,y2,residual,inlier" {
		return fmt.Errorf("unexpected CSV header: %s", got)
	}
	return nil
}

// theOutputShouldHaveCSVRows checks the number of data rows.
func (testCtx *TestContext) theOutputShouldHaveCSVRows(n int) error {
	records, err := csv.NewReader(strings.NewReader(testCtx.LastOutput)).ReadAll()
	if err != nil {
		return fmt.Errorf("output is not valid CSV: %w", err)
	}
	if len(records)-1 != n {
		return fmt.Errorf("CSV has %d data rows, want %d", len(records)-1, n)
	}
	return nil
}

// theErrorShouldMention verifies the error message contains specific text.
func (testCtx *TestContext) theErrorShouldMention(errorText string) error {
	if testCtx.LastError == nil && testCtx.LastExitCode == 0 {
		return fmt.Errorf("no error occurred, but expected error containing '%s'", errorText)
	}

	fullErrorText := testCtx.LastOutput
	if testCtx.LastError != nil {
		fullErrorText += " " + testCtx.LastError.Error()
	}

	if !strings.Contains(strings.ToLower(fullErrorText), strings.ToLower(errorText)) {
		return fmt.Errorf("error does not contain '%s'\nActual error: %s", errorText, fullErrorText)
	}

	return nil
}

// theFileShouldExist verifies a file exists.
func (testCtx *TestContext) theFileShouldExist(filename string) error {
	fullPath := testCtx.resolvePath(filename)
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return fmt.Errorf("file does not exist: %s", fullPath)
	}
	return nil
}

// theFileShouldContain verifies a file contains specific content.
func (testCtx *TestContext) theFileShouldContain(filename, expectedContent string) error {
	fullPath := testCtx.resolvePath(filename)
	content, err := os.ReadFile(fullPath) //nolint:gosec // G304: Test file reading with controlled path
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", fullPath, err)
	}

	if !strings.Contains(string(content), expectedContent) {
		return fmt.Errorf("file %s does not contain '%s'\nActual content: %s",
			filename, expectedContent, string(content))
	}

	return nil
}

// theEnvironmentVariableIsSetTo sets a variable for subsequent commands.
func (testCtx *TestContext) theEnvironmentVariableIsSetTo(name, value string) error {
	testCtx.AddEnvVar(name, value)
	return nil
}

// theOutputShouldContainUsageInformation checks for cobra's usage block.
func (testCtx *TestContext) theOutputShouldContainUsageInformation() error {
	for _, indicator := range []string{"Usage:", "Flags:"} {
		if !strings.Contains(testCtx.LastOutput, indicator) {
			return fmt.Errorf("output does not contain usage information: %s", testCtx.LastOutput)
		}
	}
	return nil
}

// theOutputShouldListAvailableSubcommands checks the help lists every command.
func (testCtx *TestContext) theOutputShouldListAvailableSubcommands() error {
	for _, sub := range []string{"estimate", "linear", "demo", "serve", "config", "bench"} {
		if !strings.Contains(testCtx.LastOutput, sub) {
			return fmt.Errorf("help does not list subcommand %q\nOutput: %s", sub, testCtx.LastOutput)
		}
	}
	return nil
}

// theOutputShouldContainVersionInformation checks the --version line.
func (testCtx *TestContext) theOutputShouldContainVersionInformation() error {
	if !strings.Contains(testCtx.LastOutput, "epipolar version") {
		return fmt.Errorf("output does not contain version information: %s", testCtx.LastOutput)
	}
	return nil
}

// theLogsShouldBeStructuredJSON checks every stderr line that looks like a log
// record parses as JSON with a level and a message.
func (testCtx *TestContext) theLogsShouldBeStructuredJSON() error {
	found := false
	for _, line := range bytes.Split([]byte(testCtx.LastOutput), []byte("\n")) {
		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte(`{"time"`)) {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("log line is not JSON: %s", line)
		}
		if rec["level"] == nil || rec["msg"] == nil {
			return fmt.Errorf("log line lacks level or msg: %s", line)
		}
		found = true
	}
	if !found {
		return fmt.Errorf("no log records in output: %s", testCtx.LastOutput)
	}
	return nil
}

// substituteCommandVariables replaces placeholders in command strings.
func (testCtx *TestContext) substituteCommandVariables(command string) string {
	command = strings.ReplaceAll(command, "{matches}", testCtx.MatchesDir)
	command = strings.ReplaceAll(command, "{tmp}", testCtx.TempDir)
	if testCtx.LastDocFile != "" {
		command = strings.ReplaceAll(command, "{file}", testCtx.LastDocFile)
	}
	return command
}

func (testCtx *TestContext) registerBackgroundSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the bundled correspondence files are available$`, testCtx.theBundledCorrespondenceFilesAreAvailable)
	sc.Step(`^a file "([^"]*)" with:$`, testCtx.aCorrespondenceFileWith)
	sc.Step(`^the environment variable "([^"]*)" is set to "([^"]*)"$`, testCtx.theEnvironmentVariableIsSetTo)
}

func (testCtx *TestContext) registerCommandSteps(sc *godog.ScenarioContext) {
	sc.Step(`^I run "([^"]*)"$`, testCtx.iRunCommand)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)
}

func (testCtx *TestContext) registerOutputSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should not contain "([^"]*)"$`, testCtx.theOutputShouldNotContain)
	sc.Step(`^the output should be valid JSON$`, testCtx.theOutputShouldBeValidJSON)
	sc.Step(`^the output should be valid CSV$`, testCtx.theOutputShouldBeValidCSV)
	sc.Step(`^the output should have (\d+) CSV rows$`, testCtx.theOutputShouldHaveCSVRows)
	sc.Step(`^the JSON should contain "([^"]*)"$`, testCtx.theJSONShouldContain)
	sc.Step(`^the JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theJSONFieldShouldBe)
	sc.Step(`^the JSON array "([^"]*)" should have (\d+) elements$`, testCtx.theJSONArrayShouldHaveElements)
	sc.Step(`^the logs should be structured JSON$`, testCtx.theLogsShouldBeStructuredJSON)
}

func (testCtx *TestContext) registerFileSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
	sc.Step(`^the file "([^"]*)" should contain "([^"]*)"$`, testCtx.theFileShouldContain)
}

func (testCtx *TestContext) registerHelpSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the output should contain usage information$`, testCtx.theOutputShouldContainUsageInformation)
	sc.Step(`^the output should list available subcommands$`, testCtx.theOutputShouldListAvailableSubcommands)
	sc.Step(`^the output should contain version information$`, testCtx.theOutputShouldContainVersionInformation)
}

// RegisterCommonSteps registers all common step definitions.
func (testCtx *TestContext) RegisterCommonSteps(sc *godog.ScenarioContext) {
	testCtx.registerBackgroundSteps(sc)
	testCtx.registerCommandSteps(sc)
	testCtx.registerOutputSteps(sc)
	testCtx.registerFileSteps(sc)
	testCtx.registerHelpSteps(sc)
}
