package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/authrules/internal/evaluate"
)

var (
	checkRules string
	checkCode  string
	checkState string
	checkAge   int
	checkDx    []string
	checkPOS   string
	checkJSON  bool
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether a service needs prior authorization",
	Long: `Check evaluates extracted rules against one service request: the procedure
code, the patient's state, age and diagnoses, and the place of service.
Rules are read from a JSON report or a JSONL rule file written by extract.

A condition on a field you leave out is assumed to hold.

Example:
  authrules check --rules report.json --code 29805
  authrules check --rules rules.jsonl --code 29805 --state TX --age 40 --dx C50.011 --pos 22
  authrules check --rules report.json --code 23470 --json`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVar(&checkRules, "rules", "", "JSON report or JSONL rule records (\"-\" for stdin)")
	checkCmd.Flags().StringVar(&checkCode, "code", "", "procedure code (CPT/HCPCS)")
	checkCmd.Flags().StringVar(&checkState, "state", "", "patient state abbreviation")
	checkCmd.Flags().IntVar(&checkAge, "age", -1, "patient age in years")
	checkCmd.Flags().StringSliceVar(&checkDx, "dx", nil, "diagnosis (ICD-10) codes")
	checkCmd.Flags().StringVar(&checkPOS, "pos", "", "place of service code")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "print the decision as JSON")
	_ = checkCmd.MarkFlagRequired("rules")
	_ = checkCmd.MarkFlagRequired("code")
}

func runCheck(cmd *cobra.Command, args []string) error {
	var r io.Reader = os.Stdin
	if checkRules != "-" {
		f, err := os.Open(checkRules)
		if err != nil {
			return fmt.Errorf("open rules: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	rules, err := evaluate.ReadRules(r)
	if err != nil {
		return fmt.Errorf("read rules: %w", err)
	}

	ctx := evaluate.Context{
		Code:           checkCode,
		State:          checkState,
		Diagnoses:      checkDx,
		PlaceOfService: checkPOS,
	}
	if checkAge >= 0 {
		age := checkAge
		ctx.Age = &age
	}

	decision, err := evaluate.Evaluate(rules, ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if checkJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(decision)
	}
	return printDecision(out, decision)
}

func printDecision(w io.Writer, d evaluate.Decision) error {
	answer := "not required"
	if d.Required {
		answer = "REQUIRED"
	}
	_, err := fmt.Fprintf(w, "%s: prior authorization %s (%s)\n", d.Code, answer, d.State)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "  Reason:     %s\n", d.Reason)
	if d.RuleID != "" {
		_, _ = fmt.Fprintf(w, "  Rule:       %s\n", d.RuleID)
		_, _ = fmt.Fprintf(w, "  Confidence: %.3f\n", d.Confidence)
	}
	if len(d.Matched) > 1 {
		_, _ = fmt.Fprintf(w, "  Matched:    %d rules\n", len(d.Matched))
	}
	return nil
}
