package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/glamour"
	"github.com/go-go-golems/streamchat/pkg/conversation"
	"github.com/go-go-golems/streamchat/pkg/persistence"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Manage saved conversations",
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved conversations, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := openRecordStore(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			_ = records.Close()
		}()

		infos, err := records.List(cmd.Context())
		if err != nil {
			return err
		}

		output, _ := cmd.Flags().GetString("output")
		out := cmd.OutOrStdout()
		switch output {
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(infos)
		case "yaml":
			return yaml.NewEncoder(out).Encode(infos)
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "ID\tNAME\tMODIFIED")
		for _, info := range infos {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", info.ID, info.Name, info.ModifiedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var recordsShowCmd = &cobra.Command{
	Use:   "show <id|name>",
	Short: "Print a saved conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := openRecordStore(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			_ = records.Close()
		}()

		conv, err := records.Load(cmd.Context(), persistence.ResolveRecordID(cmd.Context(), records, args[0]))
		if err != nil {
			return err
		}

		md := renderMarkdown(conv)
		raw, _ := cmd.Flags().GetBool("raw")
		if !raw && isatty.IsTerminal(os.Stdout.Fd()) {
			styled, err := glamour.Render(md, "dark")
			if err != nil {
				return err
			}
			md = styled
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), md)
		return err
	},
}

var recordsDeleteCmd = &cobra.Command{
	Use:   "delete <id|name>...",
	Short: "Delete saved conversations",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := openRecordStore(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			_ = records.Close()
		}()

		for _, ref := range args {
			id := persistence.ResolveRecordID(cmd.Context(), records, ref)
			if err := records.Delete(cmd.Context(), id); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	recordsListCmd.Flags().StringP("output", "o", "table", "Output format (table, json, yaml)")
	recordsShowCmd.Flags().Bool("raw", false, "Print markdown without styling")
	recordsCmd.AddCommand(recordsListCmd, recordsShowCmd, recordsDeleteCmd)
}

func renderMarkdown(conv conversation.Conversation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", conv.Name)
	fmt.Fprintf(&b, "_model %s, temperature %.2f, top_p %.2f_\n\n",
		conv.Settings.ModelID, conv.Settings.Temperature, conv.Settings.TopP)
	if conv.Settings.SystemPrompt != "" {
		fmt.Fprintf(&b, "> %s\n\n", conv.Settings.SystemPrompt)
	}
	for _, t := range conv.Turns {
		fmt.Fprintf(&b, "**%s** #%d", t.Role, t.ID)
		if t.IsEdited() {
			b.WriteString(" (edited)")
		}
		if t.Errored {
			b.WriteString(" (incomplete)")
		}
		b.WriteString("\n\n")
		b.WriteString(strings.TrimRight(t.Content, "\n"))
		b.WriteString("\n\n")
	}
	return b.String()
}
