// Command stmbench drives the stm engine outside of the test suite:
// a shared-counter contention benchmark, an ordered-map benchmark, and
// a starvation probe that reports the spread of per-goroutine commit
// counts under sustained contention. Configuration can be set via
// flags, environment variables (STMBENCH_<FLAG>), or a .env file,
// following this codebase's lineage in ValentinKolb/dKV's CLI.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "stmbench",
	Short: "benchmarks and probes for the 2PLSF transactional memory engine",
	Long: fmt.Sprintf(`stmbench (v%s)

A command-line harness for the 2PLSF engine: contention benchmarks for
scalar cells and the transactional skip list, plus a starvation probe
that checks every goroutine contending on a hot cell keeps making
forward progress.`, version),
	PersistentPreRunE: initConfig,
}

func init() {
	rootCmd.PersistentFlags().Int("threads", 8, wrapString("Number of goroutines contending in the benchmark"))
	rootCmd.PersistentFlags().Int("ops", 10000, wrapString("Number of transactions each goroutine attempts"))
	rootCmd.PersistentFlags().String("log-level", "info", wrapString("Log level (debug, info, warn, error)"))

	rootCmd.AddCommand(counterCmd, orderedMapCmd, starveCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print stmbench's version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("stmbench v%s\n", version)
	},
}

// initConfig loads a .env file (if present), binds every flag to viper
// under the STMBENCH_ prefix, and runs before every subcommand.
func initConfig(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("STMBENCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	return viper.BindPFlags(cmd.Flags())
}

// wrapString wraps help text at a fixed column width, matching the
// ambient CLI style this module's flag descriptions follow.
func wrapString(text string) string {
	const wrap = 60
	var lines []string
	var cur strings.Builder
	width := 0
	for _, word := range strings.Fields(text) {
		if width > 0 && width+1+len(word) > wrap {
			lines = append(lines, cur.String())
			cur.Reset()
			width = 0
		}
		if width > 0 {
			cur.WriteString(" ")
			width++
		}
		cur.WriteString(word)
		width += len(word)
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return strings.Join(lines, "\n")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
