package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/sentinel/internal/core/config"
	"github.com/vietddude/sentinel/internal/core/domain"
	"github.com/vietddude/sentinel/internal/dlq"
)

var (
	serverAddr string
	listStatus string
	listLimit  int
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and operate the dead letter queue of a running instance",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued tasks",
	Run:   runDLQList,
}

var dlqGetCmd = &cobra.Command{
	Use:   "get <task-id>",
	Short: "Show a single task",
	Args:  cobra.ExactArgs(1),
	Run:   runDLQGet,
}

var dlqRetryCmd = &cobra.Command{
	Use:   "retry <task-id>",
	Short: "Trigger an immediate retry of a task",
	Args:  cobra.ExactArgs(1),
	Run:   runDLQRetry,
}

var dlqArchiveCmd = &cobra.Command{
	Use:   "archive <task-id>",
	Short: "Archive a task, removing it from retry scheduling",
	Args:  cobra.ExactArgs(1),
	Run:   runDLQArchive,
}

var dlqStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue statistics",
	Run:   runDLQStats,
}

var dlqClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all tasks from the queue",
	Run:   runDLQClear,
}

func init() {
	dlqCmd.PersistentFlags().StringVar(&serverAddr, "server", "", "admin server address (defaults to localhost with the configured port)")
	dlqListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (pending, retrying, exhausted, archived)")
	dlqListCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum number of tasks to show")

	dlqCmd.AddCommand(dlqListCmd, dlqGetCmd, dlqRetryCmd, dlqArchiveCmd, dlqStatsCmd, dlqClearCmd)
	rootCmd.AddCommand(dlqCmd)
}

func adminBase() string {
	if serverAddr != "" {
		return serverAddr
	}
	port := 8080
	if cfg, err := config.Load(cfgPath); err == nil {
		port = cfg.Server.Port
	}
	return fmt.Sprintf("http://localhost:%d", port)
}

func adminDo(method, path string, out any) error {
	client := &http.Client{Timeout: 30 * time.Second}
	req, err := http.NewRequest(method, adminBase()+path, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if out != nil {
		return json.Unmarshal(body, out)
	}
	return nil
}

func runDLQList(cmd *cobra.Command, args []string) {
	q := url.Values{}
	if listStatus != "" {
		q.Set("status", listStatus)
	}
	if listLimit > 0 {
		q.Set("limit", fmt.Sprintf("%d", listLimit))
	}

	var result struct {
		Tasks []*domain.FailedTask `json:"tasks"`
		Count int                  `json:"count"`
	}
	if err := adminDo(http.MethodGet, "/dlq/tasks?"+q.Encode(), &result); err != nil {
		slog.Error("Failed to list tasks", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "TASK\tSTATUS\tCATEGORY\tPOLICY\tRETRIES\tNEXT RETRY\tERROR")
	for _, t := range result.Tasks {
		next := "-"
		if t.NextRetryAt != nil {
			next = t.NextRetryAt.Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			t.TaskID, t.Status, t.ErrorCategory, t.RetryPolicy,
			t.RetryCount, t.MaxRetries, next, truncate(t.ErrorMessage, 48))
	}
	_ = w.Flush()
}

func runDLQGet(cmd *cobra.Command, args []string) {
	var task domain.FailedTask
	if err := adminDo(http.MethodGet, "/dlq/tasks/"+url.PathEscape(args[0]), &task); err != nil {
		slog.Error("Failed to get task", "error", err)
		os.Exit(1)
	}

	data, _ := json.MarshalIndent(task, "", "  ")
	fmt.Println(string(data))
}

func runDLQRetry(cmd *cobra.Command, args []string) {
	var result struct {
		TaskID string `json:"task_id"`
		Result string `json:"result"`
		Error  string `json:"error"`
	}
	if err := adminDo(http.MethodPost, "/dlq/tasks/"+url.PathEscape(args[0])+"/retry", &result); err != nil {
		slog.Error("Failed to retry task", "error", err)
		os.Exit(1)
	}

	if result.Result == "success" {
		fmt.Printf("task %s retried successfully\n", result.TaskID)
	} else {
		fmt.Printf("task %s retry failed: %s\n", result.TaskID, result.Error)
	}
}

func runDLQArchive(cmd *cobra.Command, args []string) {
	if err := adminDo(http.MethodPost, "/dlq/tasks/"+url.PathEscape(args[0])+"/archive", nil); err != nil {
		slog.Error("Failed to archive task", "error", err)
		os.Exit(1)
	}
	fmt.Printf("task %s archived\n", args[0])
}

func runDLQStats(cmd *cobra.Command, args []string) {
	var stats dlq.Statistics
	if err := adminDo(http.MethodGet, "/dlq/stats", &stats); err != nil {
		slog.Error("Failed to get stats", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintf(w, "size\t%d/%d (%.1f%%)\n", stats.Size, stats.Capacity, stats.Utilization)
	_, _ = fmt.Fprintf(w, "enqueued\t%d\n", stats.EnqueuedTotal)
	_, _ = fmt.Fprintf(w, "retry success\t%d\n", stats.RetrySuccess)
	_, _ = fmt.Fprintf(w, "retry failed\t%d\n", stats.RetryFailed)
	_, _ = fmt.Fprintf(w, "exhausted\t%d\n", stats.Exhausted)
	_, _ = fmt.Fprintf(w, "manually retried\t%d\n", stats.ManuallyRetried)
	_, _ = fmt.Fprintf(w, "archived\t%d\n", stats.Archived)
	for status, n := range stats.ByStatus {
		_, _ = fmt.Fprintf(w, "status %s\t%d\n", status, n)
	}
	for category, n := range stats.ByCategory {
		_, _ = fmt.Fprintf(w, "category %s\t%d\n", category, n)
	}
	_ = w.Flush()
}

func runDLQClear(cmd *cobra.Command, args []string) {
	var result struct {
		Removed int `json:"removed"`
	}
	if err := adminDo(http.MethodPost, "/dlq/clear", &result); err != nil {
		slog.Error("Failed to clear queue", "error", err)
		os.Exit(1)
	}
	fmt.Printf("removed %d tasks\n", result.Removed)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
