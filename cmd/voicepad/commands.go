package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/kalambet/voicepad/internal/config"
	"github.com/kalambet/voicepad/internal/document"
	"github.com/kalambet/voicepad/internal/logging"
	"github.com/kalambet/voicepad/internal/proxy"
	"github.com/kalambet/voicepad/internal/storage"
	"github.com/kalambet/voicepad/internal/store"
)

type documentRow struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
	Generated *struct {
		GeneratedAt time.Time `json:"generatedAt"`
	} `json:"generatedDocument"`
}

func formatDocumentRow(d documentRow) string {
	title := d.Title
	if utf8.RuneCountInString(title) > 60 {
		title = string([]rune(title)[:60]) + "..."
	}
	marker := " "
	if d.Generated != nil {
		marker = "*"
	}
	return fmt.Sprintf("%s %s  %-10s %s  %s",
		marker,
		colorize(colorCyan, d.ID),
		d.Status,
		d.UpdatedAt.Local().Format("2006-01-02 15:04"),
		title,
	)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- documents ---

var documentsCmd = &cobra.Command{
	Use:     "documents",
	Aliases: []string{"docs"},
	Short:   "Manage stored transcripts",
}

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List transcripts, most recently updated first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/documents?sort=recent")
		if err != nil {
			return err
		}
		var docs []documentRow
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Println("No documents.")
			return nil
		}
		for _, d := range docs {
			fmt.Println(formatDocumentRow(d))
		}
		return nil
	},
}

var documentsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one transcript as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/documents/"+args[0])
		if err != nil {
			return err
		}
		var doc any
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}
		return printJSON(os.Stdout, doc)
	},
}

var documentsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a text, markdown or PDF file as a transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.upload(cmd.Context(), "/import", "file", args[0], data)
		if err != nil {
			return err
		}
		var doc documentRow
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}
		printSuccess("Imported %q as %s", doc.Title, doc.ID)
		return nil
	},
}

var documentsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all transcripts as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/export")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return responseError(resp)
		}

		var w io.Writer = os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			w = f
		}
		if _, err := io.Copy(w, resp.Body); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}
		if output != "" {
			printSuccess("Documents exported to %s", output)
		}
		return nil
	},
}

var documentsDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete transcripts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		failures, err := deleteDocuments(cmd.Context(), client, args)
		if err != nil {
			return err
		}
		if failures > 0 {
			return fmt.Errorf("%d of %d deletions failed", failures, len(args))
		}
		printSuccess("Deleted %d document(s)", len(args))
		return nil
	},
}

// deleteDocuments deletes each id, reporting per-id failures and counting
// them. Only transport errors abort.
func deleteDocuments(ctx context.Context, client *apiClient, ids []string) (int, error) {
	failures := 0
	for _, id := range ids {
		resp, err := client.delete(ctx, "/documents/"+id)
		if err != nil {
			return failures, err
		}
		if resp.StatusCode >= 400 {
			printError("Failed to delete %s: %v", id, responseError(resp))
			failures++
		}
		resp.Body.Close()
	}
	return failures, nil
}

func init() {
	documentsExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	documentsCmd.AddCommand(documentsListCmd)
	documentsCmd.AddCommand(documentsShowCmd)
	documentsCmd.AddCommand(documentsImportCmd)
	documentsCmd.AddCommand(documentsExportCmd)
	documentsCmd.AddCommand(documentsDeleteCmd)
}

// --- prompt ---

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Work with assembled prompts",
}

var promptBuildCmd = &cobra.Command{
	Use:   "build [id]",
	Short: "Print the assembled prompt for a document (default: focused)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		fragments, _ := cmd.Flags().GetStringSlice("fragments")

		req := map[string]any{"kind": kind}
		if len(args) == 1 {
			req["docId"] = args[0]
		}
		if cmd.Flags().Changed("fragments") {
			req["selected"] = fragments
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/prompt/build", req)
		if err != nil {
			return err
		}
		var out struct {
			Prompt string `json:"prompt"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		fmt.Print(out.Prompt)
		if !strings.HasSuffix(out.Prompt, "\n") {
			fmt.Println()
		}
		return nil
	},
}

var promptListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the prompt documents the server can serve",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/prompts")
		if err != nil {
			return err
		}
		var out struct {
			Files []string `json:"files"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		for _, f := range out.Files {
			fmt.Println(f)
		}
		return nil
	},
}

func init() {
	promptBuildCmd.Flags().String("kind", "prd", "prompt kind: prd or design")
	promptBuildCmd.Flags().StringSlice("fragments", nil,
		"context fragments, e.g. app-description,raw-transcription,prd-<id>,image-references (replaces the session selection)")
	promptCmd.AddCommand(promptBuildCmd)
	promptCmd.AddCommand(promptListCmd)
}

// --- migrate ---

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate legacy stored documents to the current format",
	Long: `Migrate moves documents stored under the legacy key into the current
versioned format. It runs automatically when the server starts; this command
runs it offline against the data directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger, err := logging.New(logging.Options{Level: cfg.Log.Level})
		if err != nil {
			return err
		}
		defer logger.Sync()

		kv, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer kv.Close()

		printStep("Checking %s", cfg.Storage.DataDir)
		if store.Migrate(kv, logger) {
			printSuccess("Migrated legacy documents")
		} else {
			printStatus("Migration", "nothing to migrate")
		}
		printStatus("Documents", "%d", len(store.Load(kv, logger)))

		if versions, err := kv.AppliedMigrations(); err == nil && len(versions) > 0 {
			printStatus("Storage schema", "%d", versions[len(versions)-1])
		}
		entries, err := kv.Entries()
		if err != nil {
			return fmt.Errorf("listing storage: %w", err)
		}
		for _, e := range entries {
			printStatus(e.Key, "%s, updated %s", document.FormatSize(e.Size), e.UpdatedAt.Local().Format("2006-01-02 15:04"))
		}
		return nil
	},
}

// --- cache ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the prompt content cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop cached prompt documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/prompt-cache")
		if err != nil {
			return err
		}
		var out struct {
			Cleared int `json:"cleared"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("Cleared %d cached document(s)", out.Cleared)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
}

// --- models ---

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models of the text generation backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/models")
		if err != nil {
			return err
		}
		var list proxy.ModelList
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}
		for _, m := range list.Data {
			fmt.Println(m.ID)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", ") +
		"\nAPI keys are read from the environment or the platform secret store.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
