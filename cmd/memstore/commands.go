package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mnemosyne-ai/memstore/internal/config"
	"github.com/mnemosyne-ai/memstore/internal/embed"
)

// --- remember ---

var rememberCmd = &cobra.Command{
	Use:   "remember <content>",
	Short: "Store a memory entry",
	Long: `Store a memory entry. Text is embedded asynchronously by the server.

Examples:
  memstore remember "User prefers Go for backend services" --scope agent --owner planner
  memstore remember "Lives in Lisbon" --scope user --owner 4f7c... --type fact --importance 0.8`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content := strings.Join(args, " ")
		scope, _ := cmd.Flags().GetString("scope")
		owner, _ := cmd.Flags().GetString("owner")
		memoryType, _ := cmd.Flags().GetString("type")
		importance, _ := cmd.Flags().GetFloat64("importance")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"scope":      scope,
			"owner_id":   owner,
			"content":    content,
			"importance": importance,
		}
		if memoryType != "" {
			req["memory_type"] = memoryType
		}

		resp, err := client.post(cmd.Context(), "/memories", req)
		if err != nil {
			return err
		}

		var result struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Stored memory %s", result.ID)
		return nil
	},
}

func init() {
	rememberCmd.Flags().String("scope", "agent", "owner scope: user, session, or agent")
	rememberCmd.Flags().String("owner", "cli", "owning user/session ID or agent name")
	rememberCmd.Flags().String("type", "", "free-form memory category")
	rememberCmd.Flags().Float64("importance", 0.5, "retention weight in [0,1]")
}

// --- recall ---

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Semantic search over stored memories",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		scope, _ := cmd.Flags().GetString("scope")
		owner, _ := cmd.Flags().GetString("owner")
		limit, _ := cmd.Flags().GetInt("limit")

		// The search endpoint takes a vector, so the query is embedded
		// here with the same model the server's worker uses.
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		embedClient := embed.New(cfg.Ollama.BaseURL, cfg.Ollama.EmbedModel)
		vec, err := embedClient.Embed(cmd.Context(), query)
		if err != nil {
			return fmt.Errorf("embedding query: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"vector": vec,
			"limit":  limit,
		}
		if scope != "" {
			req["scope"] = scope
		}
		if owner != "" {
			req["owner_id"] = owner
		}

		resp, err := client.post(cmd.Context(), "/memories/search", req)
		if err != nil {
			return err
		}

		var results []struct {
			Score float32 `json:"score"`
			Entry struct {
				ID         string  `json:"id"`
				MemoryType string  `json:"memory_type"`
				Content    string  `json:"content"`
				Importance float64 `json:"importance"`
			} `json:"entry"`
		}
		if err := decodeJSON(resp, &results); err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("No results found.")
			return nil
		}

		for i, r := range results {
			fmt.Printf("\n%s [score: %.3f, importance: %.2f]\n",
				colorize(colorBold, fmt.Sprintf("Result %d", i+1)), r.Score, r.Entry.Importance)
			if r.Entry.MemoryType != "" {
				fmt.Printf("  Type: %s\n", r.Entry.MemoryType)
			}
			text := r.Entry.Content
			if len(text) > 500 {
				text = text[:500] + "..."
			}
			fmt.Printf("  %s\n", text)
		}
		return nil
	},
}

func init() {
	recallCmd.Flags().String("scope", "", "restrict to one owner scope")
	recallCmd.Flags().String("owner", "", "restrict to one owner")
	recallCmd.Flags().Int("limit", 10, "maximum number of results")
}

// --- route ---

var routeCmd = &cobra.Command{
	Use:   "route <query>",
	Short: "Pick the best model for a query and log the decision",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/route", map[string]any{"query": query})
		if err != nil {
			return err
		}

		var result struct {
			Decision struct {
				ID            string  `json:"id"`
				SelectedModel string  `json:"selected_model"`
				Confidence    float64 `json:"confidence"`
				Reasoning     string  `json:"reasoning"`
			} `json:"decision"`
			EstimatedCost      float64 `json:"estimated_cost"`
			EstimatedLatencyMs int64   `json:"estimated_latency_ms"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printStatus("Model", "%s", result.Decision.SelectedModel)
		printStatus("Confidence", "%.2f", result.Decision.Confidence)
		printStatus("Est. cost", "$%.6f", result.EstimatedCost)
		printStatus("Est. latency", "%dms", result.EstimatedLatencyMs)
		printStatus("Decision", "%s", result.Decision.ID)
		return nil
	},
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats <user-id>",
	Short: "Show usage statistics for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/users/"+args[0]+"/stats")
		if err != nil {
			return err
		}

		var stats struct {
			TotalMessages int64   `json:"total_messages"`
			TotalCost     float64 `json:"total_cost"`
			AvgLatencyMs  float64 `json:"avg_latency_ms"`
			FavoriteModel string  `json:"favorite_model"`
			TotalSessions int64   `json:"total_sessions"`
		}
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		printStatus("Messages", "%d", stats.TotalMessages)
		printStatus("Sessions", "%d", stats.TotalSessions)
		printStatus("Total cost", "$%.4f", stats.TotalCost)
		printStatus("Avg latency", "%.0fms", stats.AvgLatencyMs)
		if stats.FavoriteModel != "" {
			printStatus("Favorite model", "%s", stats.FavoriteModel)
		}

		modelsResp, err := client.get(cmd.Context(), "/users/"+args[0]+"/models")
		if err != nil {
			return err
		}
		var models []struct {
			Model     string  `json:"model"`
			Messages  int64   `json:"messages"`
			TotalCost float64 `json:"total_cost"`
		}
		if err := decodeJSON(modelsResp, &models); err != nil {
			return err
		}
		for _, m := range models {
			printStatus(m.Model, "%d messages, $%.4f", m.Messages, m.TotalCost)
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

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
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
