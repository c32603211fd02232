package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/theimaginaryfoundation/wa-digest/digest"
	"github.com/theimaginaryfoundation/wa-digest/digest/fileutils"
)

var errLLMUnavailable = errors.New("llm digest unavailable")

type outputFlags struct {
	asJSON bool
	out    string
}

func (o *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.asJSON, "json", false, "Print the full result as JSON instead of the digest text")
	cmd.Flags().StringVar(&o.out, "out", "", "Also write the JSON result to this file")
}

func (o outputFlags) write(w io.Writer, res digest.DigestResult) error {
	if o.out != "" {
		if err := fileutils.WriteJSONFileAtomic(o.out, res, true); err != nil {
			return err
		}
	}
	if o.asJSON {
		return writeJSON(w, res)
	}
	if res.Unavailable {
		return nil
	}
	_, err := fmt.Fprintln(w, res.SummaryText)
	return err
}

func newDigestCmd(a *app) *cobra.Command {
	var (
		rangeDesc string
		opts      = digest.DefaultPlainOptions()
		output    outputFlags
	)
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Print the plain digest (last messages per chat)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			d, err := a.digester(store)
			if err != nil {
				return err
			}
			res, err := d.Aggregate(cmd.Context(), rangeDesc, opts)
			if err != nil {
				return err
			}
			return output.write(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&rangeDesc, "range", "r", "", "today, yesterday, <N>d, YYYY-MM-DD or YYYY-MM-DD..YYYY-MM-DD")
	cmd.Flags().IntVar(&opts.PerConversationLimit, "limit-per-chat", opts.PerConversationLimit, "Messages kept per chat (0 = all)")
	output.register(cmd)
	return cmd
}

func newLLMCmd(a *app) *cobra.Command {
	var (
		rangeDesc string
		opts      digest.LLMOptions
		output    outputFlags
	)
	cmd := &cobra.Command{
		Use:   "llm",
		Short: "Print the LLM map/reduce digest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved := a.llmDefaults()
			flags := cmd.Flags()
			if flags.Changed("max-chats") {
				resolved.MaxConversations = opts.MaxConversations
			}
			if flags.Changed("msgs-per-chat") {
				resolved.PerConversationLimit = opts.PerConversationLimit
			}
			if flags.Changed("bullets-limit") {
				resolved.BulletsLimit = opts.BulletsLimit
			}
			if flags.Changed("concurrency") {
				resolved.Concurrency = opts.Concurrency
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			d, err := a.digester(store)
			if err != nil {
				return err
			}
			res, err := d.SummarizeMapReduce(cmd.Context(), rangeDesc, resolved)
			if err != nil {
				return err
			}
			if err := output.write(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if res.Unavailable {
				return fmt.Errorf("%w: %s", errLLMUnavailable, res.Reason)
			}
			return nil
		},
	}
	defaults := digest.DefaultLLMOptions()
	cmd.Flags().StringVarP(&rangeDesc, "range", "r", "", "today, yesterday, <N>d, YYYY-MM-DD or YYYY-MM-DD..YYYY-MM-DD")
	cmd.Flags().IntVar(&opts.MaxConversations, "max-chats", defaults.MaxConversations, "Most active chats to summarize")
	cmd.Flags().IntVar(&opts.PerConversationLimit, "msgs-per-chat", defaults.PerConversationLimit, "Newest messages sent per chat")
	cmd.Flags().IntVar(&opts.BulletsLimit, "bullets-limit", defaults.BulletsLimit, "Items kept per digest section")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", defaults.Concurrency, "Parallel per-chat extraction calls")
	output.register(cmd)
	return cmd
}
