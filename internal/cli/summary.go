package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/nerdneilsfield/go-book-translator/internal/progress"
	"github.com/nerdneilsfield/go-book-translator/internal/translator"
)

// printSummary 输出任务汇总
func printSummary(w io.Writer, s *translator.Summary, tracker *progress.Tracker, elapsed time.Duration) {
	title := color.New(color.FgCyan, color.Bold)
	switch {
	case s.Cancelled:
		title = color.New(color.FgRed, color.Bold)
		title.Fprintln(w, "任务已取消，未写出结果")
	case s.Aborted:
		title = color.New(color.FgRed, color.Bold)
		title.Fprintln(w, "任务因不可恢复的错误中止")
	default:
		title.Fprintln(w, "翻译完成")
	}

	fmt.Fprint(w, renderDocuments(s.Documents, tracker))
	fmt.Fprint(w, renderTotals(s, elapsed))

	if len(s.Fallback) > 0 {
		warn := color.New(color.FgYellow)
		warn.Fprintf(w, "\n%d 个单元使用原文:\n", len(s.Fallback))
		for _, id := range s.Fallback {
			fmt.Fprintf(w, "  - %s\n", id)
		}
	}
	if len(s.Diagnostics) > 0 {
		faint := color.New(color.Faint)
		faint.Fprintln(w, "\n诊断信息:")
		for _, d := range s.Diagnostics {
			faint.Fprintf(w, "  %s\n", d)
		}
	}
}

func renderDocuments(docs []translator.DocumentResult, tracker *progress.Tracker) string {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"文档", "状态", "单元", "已翻译", "原文", "跳过", "字符", "输出"})
	for _, d := range docs {
		chars := 0
		if tracker != nil {
			if info := tracker.GetProgress(d.Name); info != nil {
				chars = info.Chars
			}
		}
		tw.AppendRow(table.Row{d.Name, statusText(d.Status), d.Units, d.Translated, d.Fallback, d.Skipped, chars, d.Output})
	}
	tw.SetStyle(table.StyleLight)
	return tw.Render() + "\n"
}

func renderTotals(s *translator.Summary, elapsed time.Duration) string {
	tw := table.NewWriter()
	tw.AppendRow(table.Row{"成功", s.Succeeded})
	tw.AppendRow(table.Row{"失败（使用原文）", s.Failed})
	tw.AppendRow(table.Row{"跳过", s.Skipped})
	if s.Unfinished > 0 {
		tw.AppendRow(table.Row{"未完成", s.Unfinished})
	}
	tw.AppendRow(table.Row{"输出文件", len(s.Outputs)})
	tw.AppendRow(table.Row{"耗时", elapsed.Round(time.Second)})
	tw.SetStyle(table.StyleLight)
	return tw.Render() + "\n"
}

func statusText(status progress.DocumentStatus) string {
	switch status {
	case progress.DocumentCompleted:
		return color.GreenString(string(status))
	case progress.DocumentFailed, progress.DocumentAborted, progress.DocumentCancelled:
		return color.RedString(string(status))
	}
	return string(status)
}
