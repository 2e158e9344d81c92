package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/waxworks/discograph/pkg/bundle"
	"github.com/waxworks/discograph/pkg/canonical"
	"github.com/waxworks/discograph/pkg/config"
)

var checkBundleCmd = &cobra.Command{
	Use:   "check-bundle <file>",
	Short: "Normalize and validate a release bundle",
	Long: `check-bundle reads a release bundle JSON file, normalizes legacy
field aliases, and validates it against the canonical schema. All
diagnostics are printed with their field paths.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheckBundle(args[0])
	},
}

var hashCmd = &cobra.Command{
	Use:   "hash <file>",
	Short: "Print the canonical hash of a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHash(args[0])
	},
}

func runCheckBundle(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	rn, err := newRoles(config.Load())
	if err != nil {
		return err
	}
	b, diags, err := bundle.NewNormalizer(rn).Normalize(raw)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if diags.HasErrors() {
		printDiags(diags)
		return fmt.Errorf("%d normalization error(s)", len(diags.Errors))
	}

	v, err := bundle.NewValidator()
	if err != nil {
		return err
	}
	if verr := v.Validate(b); verr != nil {
		printDiags(verr)
		return fmt.Errorf("%d validation error(s)", len(verr.Errors))
	}

	fmt.Printf("ok: %q, %d track(s), %d group(s)\n", b.Release.Name, len(b.Tracks), len(b.Groups))
	return nil
}

func printDiags(diags *bundle.ValidationErrors) {
	for _, fe := range diags.Errors {
		fmt.Fprintf(os.Stderr, "  %s: %s\n", fe.Path, fe.Message)
	}
}

func runHash(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	h, err := canonical.Hash(v)
	if err != nil {
		return err
	}
	fmt.Println(h)
	return nil
}
