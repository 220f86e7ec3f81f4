package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/evsync/internal/form"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                   `json:"valid"`
	Events []string               `json:"events,omitempty"`
	Errors []form.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <forms-dir>",
		Short: "Validate form configurations",
		Long: `Validate the CUE form configurations in a directory.

Every event is compiled and checked: field ids are unique and non-empty,
kinds and condition types are known, condition expressions compile, and
the title and date fields exist. All errors are reported, not just the first.

Examples:
  evsync validate ./forms
  evsync validate ./forms --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, formsDir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, loadErrors := form.LoadDirMode(formsDir, form.LoadModeCollectAll)

	// Handle load errors (directory not found, no files, etc.)
	if cfg == nil && len(loadErrors) > 0 {
		var loadErr *form.LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputValidateError(formatter, CodeGeneric, loadErrors[0].Error(), nil)
	}

	ev, err := form.NewEvaluator()
	if err != nil {
		return outputValidateError(formatter, CodeGeneric, err.Error(), nil)
	}

	validationErrors, events := validateAll(cfg, ev, formatter)

	// Events that failed to compile are reported alongside the rest.
	for _, err := range loadErrors {
		ve := form.ValidationError{Field: "load", Message: err.Error(), Code: CodeGeneric}
		var loadErr *form.LoadError
		if errors.As(err, &loadErr) {
			ve.Code = loadErr.Code
			ve.Message = loadErr.Message
			if loadErr.Pos.IsValid() {
				ve.Field = fmt.Sprintf("line %d", loadErr.Pos.Line())
			}
		}
		validationErrors = append(validationErrors, ve)
	}

	if len(validationErrors) > 0 {
		return outputValidationErrors(formatter, validationErrors)
	}

	return outputValidateSuccess(formatter, events)
}

// validateAll validates every event in cfg in name order.
func validateAll(cfg *form.Config, ev *form.Evaluator, formatter *OutputFormatter) ([]form.ValidationError, []string) {
	names := make([]string, 0, len(cfg.Events))
	for name := range cfg.Events {
		names = append(names, name)
	}
	slices.Sort(names)

	var allErrors []form.ValidationError
	for _, name := range names {
		formatter.VerboseLog("Validating event: %s", name)
		allErrors = append(allErrors, form.Validate(cfg.Events[name], ev)...)
	}
	return allErrors, names
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, events []string) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Events: events})
	}

	fmt.Fprintf(formatter.Writer, "✓ All forms valid (%d events)\n", len(events))
	return nil
}

// outputValidateError outputs a single validation error.
func outputValidateError(formatter *OutputFormatter, code, message string, details interface{}) error {
	_ = formatter.Error(code, message, details)
	// Unreadable directories are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []form.ValidationError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Event != "" {
			fmt.Fprintf(formatter.Writer, "%s.%s\n", err.Event, err.Field)
		} else {
			fmt.Fprintf(formatter.Writer, "%s\n", err.Field)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", err.Code, err.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
