package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags "-X hf-gateway/cmd.Version=...".
var Version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hf-gateway",
		Short: "OpenAI-compatible gateway for the Hugging Face inference router",
		Long: `hf-gateway accepts OpenAI-style chat completion requests, forwards them to
the Hugging Face router and translates the replies, including streamed
responses, back into the OpenAI format.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd(), newVersionCmd())
	return root
}

// Execute runs the CLI with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	root := newRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
