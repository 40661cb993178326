package cli

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/nerdneilsfield/go-book-translator/internal/document"
	"github.com/spf13/cobra"
)

var errUnknownFormat = errors.New("unknown format")

// NewFormatsCommand 创建 formats 命令
func NewFormatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "列出支持的输入输出格式",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), renderFormats())
		},
	}
}

func renderFormats() string {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"格式", "扩展名", "输出扩展名"})
	for _, f := range document.Formats() {
		tw.AppendRow(table.Row{f, strings.Join(f.Extensions(), " "), f.Extension()})
	}
	tw.SetStyle(table.StyleLight)
	return tw.Render() + "\n"
}

// parseFormat 解析格式名称，无法识别时给出最接近的候选
func parseFormat(s string) (document.Format, error) {
	f, err := document.ParseFormat(s)
	if err == nil {
		return f, nil
	}
	if hint := suggestFormat(s); hint != "" {
		return "", fmt.Errorf("%w %q, did you mean %q?", errUnknownFormat, s, hint)
	}
	return "", fmt.Errorf("%w %q, run 'translator formats' for the list", errUnknownFormat, s)
}

func suggestFormat(s string) string {
	var names []string
	for _, f := range document.Formats() {
		names = append(names, string(f))
	}
	s = strings.ToLower(strings.TrimPrefix(s, "."))

	ranks := fuzzy.RankFindFold(s, names)
	if len(ranks) > 0 {
		sort.Sort(ranks)
		return ranks[0].Target
	}
	best, bestDistance := "", 3
	for _, name := range names {
		if d := fuzzy.LevenshteinDistance(s, name); d < bestDistance {
			best, bestDistance = name, d
		}
	}
	return best
}
