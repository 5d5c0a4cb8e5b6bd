package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/utafrali/storefront/pkg/sessionclient"
)

func (c *cli) getCmd() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "get PATH",
		Short: "Send an authenticated GET and print the response body",
		Example: `  sessionctl get /api/v1/users/me
  sessionctl get --raw /api/v1/auth/verify`,
		Args: cobra.ExactArgs(1),
		RunE: c.withSession(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			resp, err := c.client.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return writeBody(cmd.OutOrStdout(), resp, raw)
		}),
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "print the body as received")
	return cmd
}

// writeBody indents JSON bodies unless raw is set.
func writeBody(w io.Writer, resp *sessionclient.Response, raw bool) error {
	body := resp.Body
	if !raw && resp.IsJSON() {
		var buf bytes.Buffer
		if err := json.Indent(&buf, resp.Body, "", "  "); err == nil {
			body = buf.Bytes()
		}
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if len(body) > 0 && body[len(body)-1] != '\n' {
		_, err := io.WriteString(w, "\n")
		return err
	}
	return nil
}
