package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/fitgate/internal/config"
	"github.com/kalambet/fitgate/internal/finetune"
	"github.com/kalambet/fitgate/internal/pipeline"
	"github.com/kalambet/fitgate/internal/router"
	"github.com/kalambet/fitgate/internal/storage"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question as a user",
	Long: `Ask a question through the running server.

Examples:
  fitgate ask "How do I improve my squat depth?"
  fitgate ask --user alice "what about reps?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		verbose, _ := cmd.Flags().GetBool("verbose")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		res, err := ask(cmd.Context(), client, user, strings.Join(args, " "))
		if err != nil {
			return err
		}
		printAnswer(res, verbose)
		return nil
	},
}

func ask(ctx context.Context, client *apiClient, user, text string) (pipeline.Response, error) {
	if strings.TrimSpace(user) == "" {
		return pipeline.Response{}, errors.New("--user must not be empty")
	}
	resp, err := client.post(ctx, "/v1/query", map[string]string{"user_id": user, "text": text})
	if err != nil {
		return pipeline.Response{}, err
	}
	var res pipeline.Response
	if err := decodeJSON(resp, &res); err != nil {
		return pipeline.Response{}, err
	}
	return res, nil
}

func printAnswer(res pipeline.Response, verbose bool) {
	fmt.Fprintln(stdout, res.Answer)
	if !verbose {
		return
	}
	printStatus("Category", "%s (%.2f)", res.Category, res.Confidence)
	if res.Admitted {
		provider := res.Provider
		if res.Fallback {
			provider += " (fallback)"
		}
		printStatus("Provider", "%s", provider)
	}
	for _, a := range res.Attempts {
		outcome := "ok"
		if a.Err != "" {
			outcome = string(a.Kind) + ": " + a.Err
		}
		printStatus("  "+a.Provider, "%s in %s", outcome, a.Latency.Round(time.Millisecond))
	}
	printStatus("Took", "%dms", res.DurationMs)
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect or purge a user's conversation context",
}

type historyResponse struct {
	UserID       string                `json:"user_id"`
	Window       int                   `json:"window"`
	Interactions []storage.Interaction `json:"interactions"`
}

var historyShowCmd = &cobra.Command{
	Use:   "show <user>",
	Short: "Show a user's recent interactions, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		h, err := fetchHistory(cmd.Context(), client, args[0], limit)
		if err != nil {
			return err
		}
		if len(h.Interactions) == 0 {
			printWarning("No interactions for %s", h.UserID)
			return nil
		}
		tw := newTable("TIME", "CATEGORY", "PROVIDER", "QUERY")
		for _, i := range h.Interactions {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", i.CreatedAt.Local().Format(time.DateTime), i.Category, i.Provider, truncate(i.Query, 60))
		}
		return tw.Flush()
	},
}

func fetchHistory(ctx context.Context, client *apiClient, user string, limit int) (historyResponse, error) {
	path := "/v1/users/" + url.PathEscape(user) + "/history"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	resp, err := client.get(ctx, path)
	if err != nil {
		return historyResponse{}, err
	}
	var h historyResponse
	err = decodeJSON(resp, &h)
	return h, err
}

var historyPurgeCmd = &cobra.Command{
	Use:   "purge <user>",
	Short: "Delete every stored interaction of a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/v1/users/"+url.PathEscape(args[0])+"/history")
		if err != nil {
			return err
		}
		var out struct {
			Purged int `json:"purged"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("Purged %s for %s", countLabel(out.Purged, "interaction"), args[0])
		return nil
	},
}

func countLabel(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

// --- providers ---

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Inspect provider availability",
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List providers in attempt order with their state",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return printProviders(cmd.Context(), client)
	},
}

type providersResponse struct {
	Providers []router.Status `json:"providers"`
	Exhausted int             `json:"exhausted"`
}

func printProviders(ctx context.Context, client *apiClient) error {
	resp, err := client.get(ctx, "/v1/providers")
	if err != nil {
		return err
	}
	var out providersResponse
	if err := decodeJSON(resp, &out); err != nil {
		return err
	}
	if len(out.Providers) == 0 {
		printWarning("No providers registered, every admitted query gets the built-in answer")
		return nil
	}

	tw := newTable("PROVIDER", "MODEL", "RANK", "STATE", "CALLS", "DETAIL")
	for _, p := range out.Providers {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d/%d\t%s\n",
			p.ID, p.Model, p.Rank, colorize(stateColor(string(p.State)), string(p.State)),
			p.Stats.Successes, p.Stats.Calls, providerDetail(p))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if out.Exhausted > 0 {
		printWarning("%s fell through to the built-in answer", countLabel(out.Exhausted, "query"))
	}
	return nil
}

func providerDetail(p router.Status) string {
	switch {
	case p.Indefinite:
		return "disabled until reset"
	case !p.UnavailableUntil.IsZero():
		return "until " + p.UnavailableUntil.Local().Format(time.TimeOnly)
	case p.Strikes > 0:
		return countLabel(p.Strikes, "strike")
	default:
		return ""
	}
}

var providersResetCmd = &cobra.Command{
	Use:   "reset <id>",
	Short: "Mark a provider available again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/providers/"+url.PathEscape(args[0])+"/reset", nil)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Provider %s reset", args[0])
		return nil
	},
}

// --- finetune ---

var finetuneCmd = &cobra.Command{
	Use:   "finetune",
	Short: "Submit and track fine-tune jobs",
}

var finetuneSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a fine-tune job",
	Long: `Submit a fine-tune job from a records file or from answered history.

A records file holds JSON objects with system, user and assistant fields,
either one per line or as a single array.

Examples:
  fitgate finetune submit --file ./corpus.jsonl
  fitgate finetune submit --from-history --suffix coach-v2`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		fromHistory, _ := cmd.Flags().GetBool("from-history")
		baseModel, _ := cmd.Flags().GetString("base-model")
		suffix, _ := cmd.Flags().GetString("suffix")

		if (file == "") == !fromHistory {
			return errors.New("exactly one of --file or --from-history is required")
		}

		req := map[string]any{"from_history": fromHistory}
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading records: %w", err)
			}
			records, err := parseRecords(data)
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			req["records"] = records
		}
		if baseModel != "" {
			req["base_model"] = baseModel
		}
		if suffix != "" {
			req["suffix"] = suffix
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if fromHistory {
			printStep("Building corpus from answered history")
		}
		resp, err := client.post(cmd.Context(), "/v1/finetune/jobs", req)
		if err != nil {
			return err
		}
		var job finetune.Job
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		printSuccess("Submitted job %s with %s", job.ID, countLabel(job.RecordCount, "record"))
		return nil
	},
}

// parseRecords accepts a JSON array or JSON Lines of records. Lines in the
// chat "messages" layout are converted as well.
func parseRecords(data []byte) ([]finetune.Record, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("no records")
	}
	if data[0] == '[' {
		var records []finetune.Record
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("decoding record array: %w", err)
		}
		return records, nil
	}

	var records []finetune.Record
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		rec, err := parseRecordLine(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, sc.Err()
}

func parseRecordLine(text []byte) (finetune.Record, error) {
	var raw struct {
		finetune.Record
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(text, &raw); err != nil {
		return finetune.Record{}, err
	}
	rec := raw.Record
	for _, m := range raw.Messages {
		switch m.Role {
		case "system":
			rec.System = m.Content
		case "user":
			rec.User = m.Content
		case "assistant":
			rec.Assistant = m.Content
		}
	}
	return rec, nil
}

var finetuneListCmd = &cobra.Command{
	Use:   "list",
	Short: "List fine-tune jobs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		statuses, _ := cmd.Flags().GetStringSlice("status")
		limit, _ := cmd.Flags().GetInt("limit")

		q := url.Values{}
		q.Set("limit", fmt.Sprint(limit))
		for _, s := range statuses {
			q.Add("status", s)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/finetune/jobs?"+q.Encode())
		if err != nil {
			return err
		}
		var out struct {
			Jobs []finetune.Job `json:"jobs"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		if len(out.Jobs) == 0 {
			printWarning("No fine-tune jobs")
			return nil
		}
		tw := newTable("ID", "STATUS", "STAGE", "RECORDS", "CREATED", "MODEL")
		for _, j := range out.Jobs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
				j.ID, colorize(stateColor(string(j.Status)), string(j.Status)), j.Stage,
				j.RecordCount, j.CreatedAt.Local().Format(time.DateTime), j.ModelID)
		}
		return tw.Flush()
	},
}

var finetuneStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Poll a job once and show its state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		job, err := pollJob(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		printJob(job)
		return nil
	},
}

func pollJob(ctx context.Context, client *apiClient, id string) (finetune.Job, error) {
	resp, err := client.get(ctx, "/v1/finetune/jobs/"+url.PathEscape(id))
	if err != nil {
		return finetune.Job{}, err
	}
	var job finetune.Job
	err = decodeJSON(resp, &job)
	return job, err
}

func printJob(j finetune.Job) {
	printStatus("Job", "%s", j.ID)
	printStatus("Status", "%s", colorize(stateColor(string(j.Status)), string(j.Status)))
	if j.Stage != j.Status {
		printStatus("Stage", "%s", j.Stage)
	}
	printStatus("Base model", "%s", j.BaseModel)
	printStatus("Records", "%d", j.RecordCount)
	if j.RemoteJobID != "" {
		printStatus("Remote job", "%s", j.RemoteJobID)
	}
	if j.ModelID != "" {
		printStatus("Model", "%s (provider %s)", j.ModelID, finetune.ProviderPrefix+j.ModelID)
	}
	if j.LastError != "" {
		printStatus("Last error", "%s (attempt %d)", j.LastError, j.Attempts)
	}
	printStatus("Updated", "%s", j.UpdatedAt.Local().Format(time.DateTime))
}

var finetuneCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a job that has not finished",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/finetune/jobs/"+url.PathEscape(args[0])+"/cancel", nil)
		if err != nil {
			return err
		}
		var job finetune.Job
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		printSuccess("Job %s cancelled", job.ID)
		return nil
	},
}

var finetuneWatchCmd = &cobra.Command{
	Use:   "watch <id>",
	Short: "Poll a job until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		job, err := watchJob(cmd.Context(), client, args[0], interval, os.Stderr)
		if err != nil {
			return err
		}
		if job.Status != finetune.StatusSucceeded {
			return fmt.Errorf("job %s ended %s", job.ID, job.Status)
		}
		printSuccess("Job %s succeeded, provider %s registered", job.ID, finetune.ProviderPrefix+job.ModelID)
		return nil
	},
}

// watchJob polls id every interval, writing a line to w on each status or
// stage change, and returns the job once it is terminal.
func watchJob(ctx context.Context, client *apiClient, id string, interval time.Duration, w io.Writer) (finetune.Job, error) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last finetune.Job
	for {
		job, err := pollJob(ctx, client, id)
		if err != nil {
			return finetune.Job{}, err
		}
		if job.Status != last.Status || job.Stage != last.Stage {
			fmt.Fprintf(w, "%s  %s/%s\n", time.Now().Format(time.TimeOnly), job.Status, job.Stage)
			last = job
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
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
		tw := newTable("KEY", "VALUE", "ENV")
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", k.Key, k.Value, k.EnvVar)
		}
		return tw.Flush()
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

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Restore a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key>",
	Short: "Store an API key in the secret store (read from stdin)",
	Long: `Store an API key in the platform secret store.

The value is read from stdin so it does not end up in shell history.

Example:
  fitgate config set-secret deepseek.api_key < key.txt`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := readSecret(cmd.InOrStdin())
		if err != nil {
			return err
		}
		if err := config.SetSecret(args[0], value); err != nil {
			return err
		}
		printSuccess("Stored %s", args[0])
		return nil
	},
}

func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("empty secret on stdin")
	}
	return line, nil
}

func init() {
	askCmd.Flags().StringP("user", "u", currentUser(), "user the question is asked as")
	askCmd.Flags().BoolP("verbose", "v", false, "show category, provider and attempts")

	historyShowCmd.Flags().Int("limit", 0, "max interactions to show (0 = the whole window)")
	historyCmd.AddCommand(historyShowCmd, historyPurgeCmd)

	providersCmd.AddCommand(providersListCmd, providersResetCmd)

	finetuneSubmitCmd.Flags().String("file", "", "JSON or JSONL file of records")
	finetuneSubmitCmd.Flags().Bool("from-history", false, "build the corpus from answered history")
	finetuneSubmitCmd.Flags().String("base-model", "", "base model to tune (defaults to finetune.base_model)")
	finetuneSubmitCmd.Flags().String("suffix", "", "model name suffix (defaults to finetune.suffix)")
	finetuneListCmd.Flags().StringSlice("status", nil, "filter by status (repeatable)")
	finetuneListCmd.Flags().Int("limit", 20, "max jobs to list")
	finetuneWatchCmd.Flags().Duration("interval", 10*time.Second, "poll interval")
	finetuneCmd.AddCommand(finetuneSubmitCmd, finetuneListCmd, finetuneStatusCmd, finetuneCancelCmd, finetuneWatchCmd)

	configCmd.AddCommand(configShowCmd, configSetCmd, configUnsetCmd, configSetSecretCmd)
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}
