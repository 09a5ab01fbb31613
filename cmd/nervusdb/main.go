// Package main provides the NervusDB CLI entry point.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nervusdb/nervusdb/pkg/config"
	"github.com/nervusdb/nervusdb/pkg/nervusdb"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "nervusdb",
		Short: "NervusDB - Embeddable labeled-property graph database",
		Long: `NervusDB is an embeddable labeled-property graph database written
in Go: Cypher-dialect queries over a WAL-backed paged store with
immutable snapshot reads.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("NervusDB v%s (%s)\n", version, commit)
		},
	})

	queryCmd := &cobra.Command{
		Use:   "query [cypher]",
		Short: "Execute a single Cypher statement",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuery,
	}
	queryCmd.Flags().String("data-dir", "", "Data directory (default: $NERVUSDB_DATA_DIR or ./data)")
	queryCmd.Flags().String("config", "", "YAML config file")
	rootCmd.AddCommand(queryCmd)

	shellCmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive Cypher shell",
		RunE:  runShell,
	}
	shellCmd.Flags().String("data-dir", "", "Data directory (default: $NERVUSDB_DATA_DIR or ./data)")
	shellCmd.Flags().String("config", "", "YAML config file")
	rootCmd.AddCommand(shellCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) *config.Config {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg := config.LoadFromEnvOrFile(cfgPath)
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	return cfg
}

func runQuery(cmd *cobra.Command, args []string) error {
	db, err := nervusdb.Open(loadConfig(cmd))
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := db.Execute(args[0], nil)
	if err != nil {
		return err
	}
	printResult(res)
	return nil
}

func runShell(cmd *cobra.Command, args []string) error {
	db, err := nervusdb.Open(loadConfig(cmd))
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Printf("NervusDB v%s shell. Type :exit to quit.\n", version)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("nervusdb> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == ":exit" || line == ":quit" {
			break
		}
		res, err := db.Execute(line, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		printResult(res)
	}
	return scanner.Err()
}

func printResult(res *nervusdb.Result) {
	if res.Explain != "" {
		fmt.Print(res.Explain)
		return
	}
	if len(res.Columns) > 0 {
		fmt.Println(strings.Join(res.Columns, "\t"))
	}
	for _, row := range res.Rows {
		cells := make([]string, 0, len(res.Columns))
		for _, col := range res.Columns {
			v, _ := row.Get(col)
			cells = append(cells, v.String())
		}
		fmt.Println(strings.Join(cells, "\t"))
	}
	if res.Affected > 0 {
		fmt.Printf("(%d entities affected)\n", res.Affected)
	}
}
