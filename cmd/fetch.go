package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/legifetch/internal/retrieval"
)

type fetchOptions struct {
	params map[string]string
	output string
}

// newFetchCmd creates the 'fetch' subcommand, which retrieves one document and prints its body.
func newFetchCmd() *cobra.Command {
	opts := &fetchOptions{}
	cmd := &cobra.Command{
		Use:   "fetch URL",
		Short: "Retrieve one document",
		Long: `Retrieves URL with the configured backend. Cached copies are served when present;
placeholder pages are retried after the operator acknowledges them. The body is written
to stdout, or to --output. A non-200 response still writes the body and exits non-zero.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, opts, args[0])
		},
	}
	cmd.Flags().StringToStringVarP(&opts.params, "param", "p", nil, "query parameter key=value (repeatable)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write the body to this file instead of stdout")
	return cmd
}

func runFetch(cmd *cobra.Command, opts *fetchOptions, rawURL string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()

	id := retrieval.NewIdentity(rawURL, opts.params)
	doc, err := appInstance.Get(cmd.Context(), id)
	var hard *retrieval.HardFailureError
	if err != nil && !errors.As(err, &hard) {
		return err
	}

	if werr := writeBody(cmd.OutOrStdout(), opts.output, doc.Body); werr != nil {
		return errors.Join(err, werr)
	}
	logger.Info("Fetched document",
		zap.String("url", doc.FinalURL),
		zap.Int("bytes", len(doc.Body)),
		zap.Bool("from_cache", doc.Envelope.FromCache),
		zap.String("backend", appInstance.Backend()),
	)
	return err
}

func writeBody(stdout io.Writer, path string, body []byte) error {
	if path == "" {
		_, err := stdout.Write(body)
		return err
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
