package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Glossary 预定义译名，写入提示词约束模型输出
type Glossary struct {
	SourceLang string            `toml:"source_lang"`
	TargetLang string            `toml:"target_lang"`
	Terms      map[string]string `toml:"translations"`
}

// LoadGlossary 读取 TOML 术语表
func LoadGlossary(path string) (*Glossary, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read glossary: %w", err)
	}
	g := &Glossary{}
	if err := toml.Unmarshal(content, g); err != nil {
		return nil, fmt.Errorf("failed to parse glossary %s: %w", path, err)
	}
	if g.SourceLang == "" || g.TargetLang == "" {
		return nil, fmt.Errorf("glossary %s is missing source_lang or target_lang", path)
	}
	return g, nil
}

// Instruction 生成附加到系统提示词的说明，术语按原文排序
func (g *Glossary) Instruction() string {
	if g == nil || len(g.Terms) == 0 {
		return ""
	}
	keys := make([]string, 0, len(g.Terms))
	for k := range g.Terms {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("Always use these translations:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s => %s\n", k, g.Terms[k])
	}
	return strings.TrimRight(b.String(), "\n")
}

// Matches 术语表语言是否与任务一致
func (g *Glossary) Matches(sourceLang, targetLang string) bool {
	return strings.EqualFold(g.SourceLang, sourceLang) && strings.EqualFold(g.TargetLang, targetLang)
}
