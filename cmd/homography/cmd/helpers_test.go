package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/blacksoil/HomographyAnalyzer/internal/testutil"
)

// resetFlags restores every flag of c and its subcommands to its default so that
// executions within one test binary do not see each other's flags.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// executeCommand runs the root command with args and returns stdout and stderr.
func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Chdir(t.TempDir())

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

// writePair writes a textured reference and a copy moved by (6, 4) into dir.
func writePair(t *testing.T, dir string) (ref, target string) {
	t.Helper()
	scene := testutil.TexturedScene(testutil.MediumSize.Width, testutil.MediumSize.Height, 3)
	ref = filepath.Join(dir, "reference.png")
	target = filepath.Join(dir, "target.png")
	testutil.SaveImage(t, scene.ToImage(), ref)
	testutil.SaveImage(t, testutil.Translate(scene, 6, 4).ToImage(), target)
	return ref, target
}

// writeWorkspace creates a workspace with two shifted targets and one noise target.
func writeWorkspace(t *testing.T) string {
	t.Helper()
	root := testutil.CreateWorkspace(t)
	in := filepath.Join(root, "input")
	scene := testutil.TexturedScene(testutil.MediumSize.Width, testutil.MediumSize.Height, 3)
	testutil.SaveImage(t, scene.ToImage(), filepath.Join(in, "REFERENCE.png"))
	testutil.SaveImage(t, testutil.Translate(scene, 6, 4).ToImage(), filepath.Join(in, "1.png"))
	testutil.SaveImage(t, testutil.Translate(scene, -5, 3).ToImage(), filepath.Join(in, "2.png"))
	testutil.SaveImage(t, testutil.NoiseImage(scene.Width, scene.Height, 99).ToImage(), filepath.Join(in, "3.png"))
	return root
}
