package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/pachai/internal/config"
	"github.com/kalambet/pachai/internal/decision"
	"github.com/kalambet/pachai/internal/domain"
	"github.com/kalambet/pachai/internal/governance"
	"github.com/kalambet/pachai/internal/pipeline"
	"github.com/kalambet/pachai/internal/product"
	"github.com/kalambet/pachai/internal/rulebook"
	"github.com/kalambet/pachai/internal/search"
	"github.com/kalambet/pachai/internal/storage"
)

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
		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
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

// --- rules ---

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and sync foundational veredicts",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the active rules the server enforces",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/governance/rules")
		if err != nil {
			return err
		}
		var rules []governance.FoundationalVeredict
		if err := decodeJSON(resp, &rules); err != nil {
			return err
		}
		printRules(rules)
		return nil
	},
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Validate a rules file merged over the built-in rules",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := rulesPath(args)
		if err != nil {
			return err
		}
		rules, err := rulebook.Load(path)
		if err != nil {
			return err
		}
		printRules(rules)
		printSuccess("%d rules valid (%s)", len(rules), path)
		return nil
	},
}

var rulesSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Write the rules file into the store and refresh the server cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		report, err := rulebook.Sync(cmd.Context(), store, cfg.Governance.RulesFile)
		if err != nil {
			return err
		}
		printSuccess("Synced %d rules (%d new, %d updated)", report.Total, report.Inserted, report.Updated)

		client, err := newAPIClient()
		if err != nil {
			return nil
		}
		resp, err := client.post(cmd.Context(), "/governance/invalidate", nil)
		if err != nil {
			printWarning("server not running; rules apply on next start")
			return nil
		}
		return decodeJSON(resp, nil)
	},
}

func rulesPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	return cfg.Governance.RulesFile, nil
}

func printRules(rules []governance.FoundationalVeredict) {
	if len(rules) == 0 {
		fmt.Println("No active rules.")
		return
	}
	for _, r := range rules {
		state := ""
		if !r.IsActive {
			state = colorize(colorYellow, " (inactive)")
		}
		fmt.Printf("%-14s %3d  %s%s\n  %s\n",
			colorize(colorCyan, string(r.EnforcementScope)), r.Priority, colorize(colorBold, r.Code), state, r.Title)
	}
}

func init() {
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesCheckCmd)
	rulesCmd.AddCommand(rulesSyncCmd)
}

// --- product ---

var productCmd = &cobra.Command{
	Use:   "product",
	Short: "Manage product workspaces",
}

var productListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your products",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/products")
		if err != nil {
			return err
		}
		var products []domain.Product
		if err := decodeJSON(resp, &products); err != nil {
			return err
		}
		if len(products) == 0 {
			fmt.Println("No products found.")
			return nil
		}
		for _, p := range products {
			fmt.Printf("%s  %s  %s\n", colorize(colorCyan, p.ID), p.Name, truncate(p.Context, 60))
		}
		return nil
	},
}

var productCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a product",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		contextText, _ := cmd.Flags().GetString("context")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/products", map[string]string{
			"name":    strings.Join(args, " "),
			"context": contextText,
		})
		if err != nil {
			return err
		}
		var p domain.Product
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}
		printSuccess("Created product %s (%s)", p.Name, p.ID)
		return nil
	},
}

var productShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a product as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/products/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var p domain.Product
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}
		return printJSON(os.Stdout, p)
	},
}

var productContextCmd = &cobra.Command{
	Use:   "context <id>",
	Short: "Replace the product context",
	Long: `Replace the product context. Every change needs a reason.

Examples:
  pachai product context <id> --text "SaaS B2B de onboarding" --reason "primeira versão"
  pachai product context <id> --file ./contexto.md --reason "pivot para PMEs"
  pachai product context <id> --pdf ./pitch.pdf --reason "importado do pitch deck"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		pdfPath, _ := cmd.Flags().GetString("pdf")
		reason, _ := cmd.Flags().GetString("reason")

		switch {
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			text = string(data)
		case pdfPath != "":
			extracted, err := product.ExtractPDFText(pdfPath)
			if err != nil {
				return err
			}
			text = extracted
		case text == "":
			return fmt.Errorf("one of --text, --file, or --pdf is required")
		}
		if strings.TrimSpace(reason) == "" {
			return fmt.Errorf("--reason is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.put(cmd.Context(), "/products/"+url.PathEscape(args[0])+"/context", map[string]string{
			"context": text,
			"reason":  reason,
		})
		if err != nil {
			return err
		}
		var change domain.ProductContextChange
		if err := decodeJSON(resp, &change); err != nil {
			return err
		}
		printSuccess("Context updated (%d characters)", len([]rune(change.Next)))
		return nil
	},
}

var productHistoryCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show product context changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/products/"+url.PathEscape(args[0])+"/context/history")
		if err != nil {
			return err
		}
		var changes []domain.ProductContextChange
		if err := decodeJSON(resp, &changes); err != nil {
			return err
		}
		if len(changes) == 0 {
			fmt.Println("No context changes.")
			return nil
		}
		for _, c := range changes {
			fmt.Printf("%s  %s  %s\n", c.CreatedAt.Format("2006-01-02 15:04"), colorize(colorBold, c.ActorID), c.Reason)
		}
		return nil
	},
}

func init() {
	productCreateCmd.Flags().String("context", "", "initial product context")
	productContextCmd.Flags().String("text", "", "new context text")
	productContextCmd.Flags().String("file", "", "read the new context from a text file")
	productContextCmd.Flags().String("pdf", "", "extract the new context from a PDF")
	productContextCmd.Flags().String("reason", "", "why the context changes (required)")

	productCmd.AddCommand(productListCmd)
	productCmd.AddCommand(productCreateCmd)
	productCmd.AddCommand(productShowCmd)
	productCmd.AddCommand(productContextCmd)
	productCmd.AddCommand(productHistoryCmd)
}

// --- conversation ---

var conversationCmd = &cobra.Command{
	Use:     "conversation",
	Aliases: []string{"conv"},
	Short:   "Hold and manage conversations",
}

var conversationNewCmd = &cobra.Command{
	Use:   "new <product-id>",
	Short: "Start a conversation in a product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/products/"+url.PathEscape(args[0])+"/conversations", map[string]string{"title": title})
		if err != nil {
			return err
		}
		var c domain.Conversation
		if err := decodeJSON(resp, &c); err != nil {
			return err
		}
		printSuccess("Started conversation %s", c.ID)
		return nil
	},
}

var conversationListCmd = &cobra.Command{
	Use:   "list <product-id>",
	Short: "List conversations of a product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/products/"+url.PathEscape(args[0])+"/conversations")
		if err != nil {
			return err
		}
		var list []domain.Conversation
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}
		for _, c := range list {
			fmt.Printf("%s  %-7s  %s  %s\n", colorize(colorCyan, c.ID), c.Status, c.LastActivityAt.Format("2006-01-02 15:04"), c.Title)
		}
		return nil
	},
}

var conversationShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the conversation history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/conversations/%s/messages?limit=%d", url.PathEscape(args[0]), limit))
		if err != nil {
			return err
		}
		var msgs []domain.Message
		if err := decodeJSON(resp, &msgs); err != nil {
			return err
		}
		for _, m := range msgs {
			label := colorize(colorGreen, "você")
			if m.Role == domain.RoleAgent {
				label = colorize(colorCyan, "pachai")
			}
			fmt.Printf("%s %s\n\n", colorize(colorBold, label+":"), m.Content)
		}
		return nil
	},
}

var conversationSendCmd = &cobra.Command{
	Use:   "send <id> <message>",
	Short: "Send a message and print the agent response",
	Long: `Send a message and print the agent response.

Examples:
  pachai conversation send <id> "quero entender por que o onboarding demora"
  pachai conversation send <id> "ok, pode pesquisar" --search "churn em saas b2b"`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		body := map[string]any{"content": strings.Join(args[1:], " ")}
		if query, _ := cmd.Flags().GetString("search"); query != "" {
			body["search_confirmation"] = search.Confirmation{ConversationID: id, Query: query, UserConfirmed: true}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/conversations/"+url.PathEscape(id)+"/turns", body)
		if err != nil {
			return err
		}
		var res pipeline.TurnResult
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printTurn(res)
		return nil
	},
}

func printTurn(res pipeline.TurnResult) {
	fmt.Println(res.Response)
	fmt.Println()
	printStatus("State", "%s (%.2f)", res.Tendency.Primary, res.Tendency.Confidence)
	printStatus("Status", "%s", res.Status)
	if res.VeredictSignal.Detected {
		printStep("Ready to record a veredict: pachai veredict confirm %s --pain ... --value ... --confirm", res.AgentMessage.ConversationID)
	}
	if res.SearchOffer != nil {
		printStep("Search offered for %q: resend with --search %q to run it", res.SearchOffer.Query, res.SearchOffer.Query)
	}
	for _, r := range res.SearchResults {
		printStatus("Source", "%s (%s)", r.Title, r.URL)
	}
	for _, v := range res.Violations {
		if v.WasBlocked {
			printWarning("%s corrected at %s: %s", v.VeredictCode, v.Phase, v.Reason)
		} else {
			printWarning("%s flagged at %s: %s", v.VeredictCode, v.Phase, v.Reason)
		}
	}
}

func printStep(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+fmt.Sprintf(format, args...)))
}

func transitionCmd(use, short, action string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			resp, err := client.post(cmd.Context(), "/conversations/"+url.PathEscape(args[0])+"/"+action, nil)
			if err != nil {
				return err
			}
			var c domain.Conversation
			if err := decodeJSON(resp, &c); err != nil {
				return err
			}
			printSuccess("Conversation %s is now %s", shortID(c.ID), c.Status)
			return nil
		},
	}
}

var conversationDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a conversation and its messages (veredicts are kept)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This deletes every message in the conversation. Use --confirm to proceed.")
			return nil
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/conversations/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Conversation deleted")
		return nil
	},
}

func init() {
	conversationNewCmd.Flags().String("title", "", "conversation title")
	conversationShowCmd.Flags().Int("limit", 0, "show only the most recent messages")
	conversationSendCmd.Flags().String("search", "", "confirm an external search for this query")
	conversationDeleteCmd.Flags().Bool("confirm", false, "confirm deletion")

	conversationCmd.AddCommand(conversationNewCmd)
	conversationCmd.AddCommand(conversationListCmd)
	conversationCmd.AddCommand(conversationShowCmd)
	conversationCmd.AddCommand(conversationSendCmd)
	conversationCmd.AddCommand(transitionCmd("pause", "Pause a conversation", "pause"))
	conversationCmd.AddCommand(transitionCmd("resume", "Resume a paused conversation", "resume"))
	conversationCmd.AddCommand(transitionCmd("close", "Close a conversation", "close"))
	conversationCmd.AddCommand(conversationDeleteCmd)
}

// --- veredict ---

var veredictCmd = &cobra.Command{
	Use:   "veredict",
	Short: "Record and list product veredicts",
}

var veredictListCmd = &cobra.Command{
	Use:   "list <product-id>",
	Short: "List the veredicts of a product in version order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/products/"+url.PathEscape(args[0])+"/veredicts")
		if err != nil {
			return err
		}
		var veredicts []domain.Veredict
		if err := decodeJSON(resp, &veredicts); err != nil {
			return err
		}
		if len(veredicts) == 0 {
			fmt.Println("No veredicts recorded.")
			return nil
		}
		for _, v := range veredicts {
			fmt.Printf("%s %s\n  Dor: %s\n  Valor: %s\n",
				colorize(colorBold, fmt.Sprintf("v%d", v.Version)), v.CreatedAt.Format("2006-01-02"), v.Pain, v.Value)
			if v.Notes != "" {
				fmt.Printf("  Notas: %s\n", v.Notes)
			}
		}
		return nil
	},
}

var veredictConfirmCmd = &cobra.Command{
	Use:   "confirm <conversation-id>",
	Short: "Record a veredict from a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := decision.ConfirmRequest{}
		req.Pain, _ = cmd.Flags().GetString("pain")
		req.Value, _ = cmd.Flags().GetString("value")
		req.Notes, _ = cmd.Flags().GetString("notes")
		req.Confirmed, _ = cmd.Flags().GetBool("confirm")
		if !req.Confirmed {
			printWarning("Veredicts are only recorded on explicit confirmation. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/conversations/"+url.PathEscape(args[0])+"/veredicts", req)
		if err != nil {
			return err
		}
		var v domain.Veredict
		if err := decodeJSON(resp, &v); err != nil {
			return err
		}
		printSuccess("Recorded veredict v%d", v.Version)
		return nil
	},
}

func init() {
	veredictConfirmCmd.Flags().String("pain", "", "the pain the product addresses (required)")
	veredictConfirmCmd.Flags().String("value", "", "the value it delivers (required)")
	veredictConfirmCmd.Flags().String("notes", "", "optional notes")
	veredictConfirmCmd.Flags().Bool("confirm", false, "confirm the veredict")

	veredictCmd.AddCommand(veredictListCmd)
	veredictCmd.AddCommand(veredictConfirmCmd)
}
