package markup

import (
	"regexp"
	"strings"
)

var (
	bulletPattern      = regexp.MustCompile(`^(\s*)[•·▪◦‣●]\s+`)
	parenNumberPattern = regexp.MustCompile(`^(\s*)(\d+)\)\s+`)
	listMarkerPattern  = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+`)
)

// NormalizeLines 修正翻译输出中的列表与缩进：
// 特殊项目符号改为 "- "，"1)" 改为 "1."；
// 不紧跟列表、缩进四格以上且没有列表标记的行视为普通段落，去掉缩进。
func NormalizeLines(text string) string {
	lines := strings.Split(text, "\n")
	inFence := false
	inList := false

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if trimmed == "" {
			inList = false
			continue
		}

		line = bulletPattern.ReplaceAllString(line, "$1- ")
		line = parenNumberPattern.ReplaceAllString(line, "$1$2. ")

		switch {
		case listMarkerPattern.MatchString(line):
			inList = true
		case indentWidth(line) >= 4 && !inList:
			line = strings.TrimLeft(line, " \t")
		case indentWidth(line) == 0:
			inList = false
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

func indentWidth(line string) int {
	width := 0
	for _, r := range line {
		switch r {
		case ' ':
			width++
		case '\t':
			width += 4
		default:
			return width
		}
	}
	return width
}
