package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	agentmem "github.com/oceanbase/agentmem-go/pkg/core"
	"github.com/oceanbase/agentmem-go/pkg/memory"
	"github.com/oceanbase/agentmem-go/pkg/reflection"
)

var seedCmd = &cobra.Command{
	Use:   "seed <file>",
	Short: "Create the initial memories listed in a file, skipping those already stored",
	Long: `Create the initial memories listed in a file. Each line holds one memory;
a line may also hold several memories separated by ";". Running seed twice
with the same file creates nothing the second time.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		seeds, err := parseSeeds(f)
		_ = f.Close()
		if err != nil {
			return err
		}

		s, firstRun, err := openSession(cmd.Context(), seeds)
		if err != nil {
			return err
		}
		defer s.close()

		fmt.Fprintf(cmd.OutOrStdout(), "%d memories stored (first run: %v)\n", len(s.client.Memories()), firstRun)
		return nil
	},
}

var recordCmd = &cobra.Command{
	Use:   "record <text>",
	Short: "Record a new observation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openSession(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer s.close()

		entry, err := s.client.Record(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d\timportance %d\t%s\n", entry.ID(), entry.Importance(), entry.Description())
		return nil
	},
}

var retrieveTop int

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <query>",
	Short: "Rank the recent memories against a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openSession(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer s.close()

		scored, err := s.client.RetrieveScored(cmd.Context(), strings.Join(args, " "), agentmem.WithLimit(retrieveTop))
		if err != nil {
			return err
		}
		printScored(cmd.OutOrStdout(), scored)
		return nil
	},
}

var reflectCmd = &cobra.Command{
	Use:   "reflect",
	Short: "Synthesize reflections from the most recent memories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openSession(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer s.close()

		report, err := s.client.GenerateReflections(cmd.Context())
		if err != nil {
			return err
		}
		printReport(cmd.OutOrStdout(), report)
		return nil
	},
}

var statusRefresh bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the character's status, generating it when none is stored",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openSession(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer s.close()

		var status string
		if statusRefresh {
			status, err = s.client.RefreshStatus(cmd.Context())
		} else {
			status, err = s.client.Status(cmd.Context())
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), status)
		return nil
	},
}

var bioCmd = &cobra.Command{
	Use:   "bio",
	Short: "Rebuild the character's bio from its memories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openSession(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer s.close()

		bio, err := s.client.Bio(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), bio)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every memory, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openSession(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer s.close()

		printEntries(cmd.OutOrStdout(), s.client.Memories())
		return nil
	},
}

func init() {
	retrieveCmd.Flags().IntVar(&retrieveTop, "top", 10, "number of memories to print (0 prints the whole window)")
	statusCmd.Flags().BoolVar(&statusRefresh, "refresh", false, "generate a new status even when one is stored")
}

// parseSeeds reads one memory per line; ";" also separates memories.
// Blank entries are dropped.
func parseSeeds(r io.Reader) ([]string, error) {
	var seeds []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		for _, part := range strings.Split(scanner.Text(), ";") {
			if part = strings.TrimSpace(part); part != "" {
				seeds = append(seeds, part)
			}
		}
	}
	return seeds, scanner.Err()
}

func printScored(w io.Writer, scored []memory.Scored) {
	for i, s := range scored {
		fmt.Fprintf(w, "%2d. %.3f  (recency %.3f, importance %.3f, relevance %.3f)  %s\n",
			i+1, s.Score, s.Recency, s.Importance, s.Relevance, s.Entry.Description())
	}
}

func printEntries(w io.Writer, entries []*memory.Entry) {
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%2d\t%s\t%s\n",
			e.ID(), e.CreatedAt().Format("2006-01-02 15:04"), e.Importance(), e.Kind(), e.Description())
	}
}

func printReport(w io.Writer, report *reflection.Report) {
	for i, q := range report.Questions {
		fmt.Fprintf(w, "Question %d: %s\n", i+1, q)
	}
	fmt.Fprintln(w)
	for _, e := range report.Persisted {
		fmt.Fprintf(w, "+ %s %v\n", e.Description(), e.AssociatedIDs())
	}
	for _, f := range report.Failed {
		fmt.Fprintf(w, "! %s: %v\n", f.Insight.Description, f.Err)
	}
}
