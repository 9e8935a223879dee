package app

import (
	"strings"

	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/defi-tokens/internal/errors"
	"github.com/ggonzalez94/defi-tokens/internal/execution"
)

func (s *runtimeState) newSubmissionsCommand() *cobra.Command {
	root := &cobra.Command{Use: "submissions", Short: "Inspect the journal of submitted approval transactions"}

	var status string
	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent submissions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status = strings.ToLower(strings.TrimSpace(status))
			switch status {
			case "", execution.StatusSubmitted, execution.StatusFailed:
			default:
				return clierr.New(clierr.CodeUsage, "--status must be submitted or failed")
			}
			journal, err := s.openJournal()
			if err != nil {
				return err
			}
			defer journal.Close()
			records, err := journal.List(status, limit)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list submissions", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), records, nil, cacheMetaBypass(), nil, false)
		},
	}
	listCmd.Flags().StringVar(&status, "status", "", "Filter by status (submitted|failed)")
	listCmd.Flags().IntVar(&limit, "limit", 20, "Maximum records to return")

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			journal, err := s.openJournal()
			if err != nil {
				return err
			}
			defer journal.Close()
			record, err := journal.Get(strings.TrimSpace(args[0]))
			if err != nil {
				if _, ok := clierr.As(err); ok {
					return err
				}
				return clierr.Wrap(clierr.CodeInternal, "read submission", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), record, nil, cacheMetaBypass(), nil, false)
		},
	}

	root.AddCommand(listCmd, getCmd)
	return root
}

func (s *runtimeState) openJournal() (*execution.Journal, error) {
	journal, err := execution.OpenJournal(s.settings.JournalPath, s.settings.JournalLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open submission journal", err)
	}
	return journal, nil
}
