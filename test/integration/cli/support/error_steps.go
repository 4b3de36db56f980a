package support

import (
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

// theErrorShouldMentionEither accepts either of two phrasings.
func (testCtx *TestContext) theErrorShouldMentionEither(first, second string) error {
	if err := testCtx.theErrorShouldMention(first); err == nil {
		return nil
	}
	return testCtx.theErrorShouldMention(second)
}

// theErrorShouldMentionUnknownFlag verifies a flag parse failure.
func (testCtx *TestContext) theErrorShouldMentionUnknownFlag() error {
	return testCtx.theErrorShouldMention("unknown flag")
}

// theErrorShouldSuggestAvailableCommands verifies cobra's unknown command hint.
func (testCtx *TestContext) theErrorShouldSuggestAvailableCommands() error {
	return testCtx.theErrorShouldMentionEither("unknown command", "Did you mean")
}

// theExitCodeShouldBe verifies the process exit status.
func (testCtx *TestContext) theExitCodeShouldBe(code int) error {
	if testCtx.LastExitCode != code {
		return fmt.Errorf("exit code %d, want %d\nOutput: %s", testCtx.LastExitCode, code, testCtx.LastOutput)
	}
	return nil
}

// noReportShouldBePrinted verifies a failed run did not emit a partial report.
func (testCtx *TestContext) noReportShouldBePrinted() error {
	if strings.Contains(testCtx.LastOutput, "Estimated Fundamental Matrix") ||
		strings.Contains(testCtx.LastOutput, `"fundamental_matrix"`) {
		return fmt.Errorf("failed run printed a report:\n%s", testCtx.LastOutput)
	}
	return nil
}

// RegisterErrorSteps registers error handling step definitions.
func (testCtx *TestContext) RegisterErrorSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the error should mention "([^"]*)"$`, testCtx.theErrorShouldMention)
	sc.Step(`^the error should mention "([^"]*)" or "([^"]*)"$`, testCtx.theErrorShouldMentionEither)
	sc.Step(`^the error should mention an unknown flag$`, testCtx.theErrorShouldMentionUnknownFlag)
	sc.Step(`^the error should suggest available commands$`, testCtx.theErrorShouldSuggestAvailableCommands)
	sc.Step(`^the exit code should be (\d+)$`, testCtx.theExitCodeShouldBe)
	sc.Step(`^no report should be printed$`, testCtx.noReportShouldBePrinted)
}
