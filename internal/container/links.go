package container

import (
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

var linkAttrPattern = regexp.MustCompile(`(?i)(\b(?:href|src)\s*=\s*)(?:"([^"]*)"|'([^']*)')`)

// rewriteLinks 把文档中指向已改名部件的 href/src 改为新路径，片段保持不变。
// docPath 用于解析相对链接。
func rewriteLinks(data []byte, docPath string, pathMap map[string]string, resolve func(base, href string) string) []byte {
	dir := path.Dir(docPath)
	return linkAttrPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		idx := linkAttrPattern.FindSubmatchIndex(m)
		prefix := string(m[idx[2]:idx[3]])
		quote, value := `"`, ""
		if idx[4] >= 0 {
			value = string(m[idx[4]:idx[5]])
		} else {
			quote = `'`
			value = string(m[idx[6]:idx[7]])
		}
		if isExternal(value) {
			return m
		}
		target, fragment := splitFragment(value)
		if target == "" {
			return m
		}
		full := resolve(docPath, target)
		mapped, ok := pathMap[full]
		if !ok || mapped == full {
			return m
		}
		href := relHref(dir, mapped)
		if fragment != "" {
			href += "#" + fragment
		}
		return []byte(prefix + quote + href + quote)
	})
}

// relHref 计算从目录 fromDir 到 target 的相对链接
func relHref(fromDir, target string) string {
	rel, err := filepath.Rel(filepath.FromSlash(fromDir), filepath.FromSlash(target))
	if err != nil {
		rel = target
	}
	segments := strings.Split(filepath.ToSlash(rel), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// suffixPath 在扩展名前插入后缀：a/ch1.xhtml -> a/ch1_translated.xhtml
func suffixPath(p, suffix string) string {
	ext := path.Ext(p)
	return strings.TrimSuffix(p, ext) + suffix + ext
}

// uniqueName 在 used 中不存在时返回 name，否则追加序号
func uniqueName(name string, used map[string]bool, numbered func(n int) string) string {
	if !used[name] {
		return name
	}
	for n := 2; ; n++ {
		candidate := numbered(n)
		if !used[candidate] {
			return candidate
		}
	}
}
