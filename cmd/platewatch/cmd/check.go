package cmd

import (
	"fmt"

	"github.com/MeKo-Tech/platewatch/internal/models"
	"github.com/MeKo-Tech/platewatch/internal/onnx"
	"github.com/spf13/cobra"
)

// checkCmd verifies the runtime setup.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check ONNX Runtime and model files",
	Long: `Verify that the ONNX Runtime shared library can be found and loaded and
that the configured model files exist.

Set ONNXRUNTIME_SHARED_LIBRARY_PATH if the library lives outside the default locations.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		applyModelFlags(cmd, cfg)
		out := cmd.OutOrStdout()

		var problems int
		report := func(ok bool, what string, err error) {
			if ok {
				_, _ = fmt.Fprintf(out, "ok      %s\n", what)
				return
			}
			problems++
			_, _ = fmt.Fprintf(out, "FAILED  %s: %v\n", what, err)
		}

		lib, err := onnx.LocateLibrary(cfg.GPU.Enabled)
		report(err == nil, "onnxruntime library "+lib, err)
		if err == nil {
			err = onnx.InitRuntime(cfg.GPU.Enabled)
			report(err == nil, "onnxruntime init", err)
			if err == nil {
				_ = onnx.ShutdownRuntime()
			}
		}

		alprCfg := cfg.ToALPRConfig()
		for _, p := range []struct{ name, path string }{
			{"detector model", alprCfg.Detector.ModelPath},
			{"recognizer model", alprCfg.Recognizer.ModelPath},
			{"alphabet", alprCfg.Recognizer.AlphabetPath},
		} {
			if p.path == "" {
				continue
			}
			err := models.ValidateModelExists(p.path)
			report(err == nil, p.name+" "+p.path, err)
		}

		if problems > 0 {
			return fmt.Errorf("%d check(s) failed", problems)
		}
		_, _ = fmt.Fprintln(out, "All checks passed.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	addModelFlags(checkCmd)
}
