package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/legifetch/internal/retrieval"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the response cache",
	}
	cmd.AddCommand(newCacheInvalidateCmd())
	return cmd
}

func newCacheInvalidateCmd() *cobra.Command {
	var params map[string]string
	cmd := &cobra.Command{
		Use:   "invalidate URL",
		Short: "Drop the cached copy of one document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			id := retrieval.NewIdentity(args[0], params)
			if err := appInstance.Invalidate(cmd.Context(), id); err != nil {
				return fmt.Errorf("invalidate %s: %w", id, err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "invalidated %s\n", id.Key())
			return err
		},
	}
	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "query parameter key=value (repeatable)")
	return cmd
}
