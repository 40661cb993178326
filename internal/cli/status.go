package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/nerdneilsfield/go-book-translator/internal/config"
	"github.com/nerdneilsfield/go-book-translator/internal/jobstore"
	"github.com/spf13/cobra"
)

var (
	// status 命令的标志
	deleteJob string
	blockJob  string
	blockUnit string
)

// NewStatusCommand 创建 status 命令
func NewStatusCommand() *cobra.Command {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "查看保存的任务进度",
		Long: `列出任务存储中未完成的任务。完成的任务会自动删除，中断或优雅结束的任务
标记为 paused，再次运行同样的输入时跳过已完成的单元。

Examples:
  # 列出任务
  translator status

  # 删除任务进度，下次从头开始
  translator status --delete <job-id>

  # 让某个章节总是保留原文
  translator status --block <job-id> --unit OEBPS/text/chapter003.xhtml`,
		Args: cobra.NoArgs,
		RunE: runStatusCommand,
	}
	statusCmd.Flags().StringVar(&deleteJob, "delete", "", "删除任务进度")
	statusCmd.Flags().StringVar(&blockJob, "block", "", "屏蔽任务中的单元")
	statusCmd.Flags().StringVar(&blockUnit, "unit", "", "要屏蔽的单元路径")
	return statusCmd
}

func runStatusCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		cfg = config.NewDefaultConfig()
	}
	updateConfigFromFlags(cmd, cfg)
	if cfg.JobStore == "" {
		return errors.New("no job store configured")
	}

	store, err := jobstore.Open(cfg.JobStore)
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	switch {
	case deleteJob != "":
		if err := store.Delete(ctx, deleteJob); err != nil {
			return fmt.Errorf("failed to delete job %s: %w", deleteJob, err)
		}
		color.New(color.FgGreen).Fprintf(out, "deleted %s\n", deleteJob)
		return nil
	case blockJob != "":
		if blockUnit == "" {
			return errors.New("--block requires --unit")
		}
		if _, err := store.Load(ctx, blockJob); err != nil {
			return fmt.Errorf("failed to load job %s: %w", blockJob, err)
		}
		if err := store.Block(ctx, blockJob, blockUnit); err != nil {
			return err
		}
		color.New(color.FgYellow).Fprintf(out, "blocked %s in %s\n", blockUnit, blockJob)
		return nil
	}

	list, err := store.List(ctx)
	if err != nil {
		return err
	}
	renderJobs(out, list)
	return nil
}

func renderJobs(w io.Writer, list []jobstore.Summary) {
	if len(list) == 0 {
		fmt.Fprintln(w, "no saved jobs")
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"任务", "文档", "已完成", "已屏蔽", "状态", "更新时间"})
	for _, s := range list {
		state := "running"
		if s.Paused {
			state = "paused"
		}
		tw.AppendRow(table.Row{s.JobID, s.Name, s.Processed, s.Blocked, state, s.UpdatedAt.Format("2006-01-02 15:04:05")})
	}
	tw.SetStyle(table.StyleLight)
	tw.Render()
}
