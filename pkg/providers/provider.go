// Package providers 实现外部文本转换服务的后端。
package providers

import (
	"fmt"
	"strings"
	"time"

	"github.com/nerdneilsfield/go-book-translator/pkg/transform"
)

// Config 后端的公共配置
type Config struct {
	Name        string        `json:"name"`
	Model       string        `json:"model"`
	APIKey      string        `json:"api_key,omitempty"`
	BaseURL     string        `json:"base_url,omitempty"`
	SourceLang  string        `json:"source_lang"`
	TargetLang  string        `json:"target_lang"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Timeout     time.Duration `json:"timeout"`

	// Vertex AI
	Project         string `json:"project,omitempty"`
	Region          string `json:"region,omitempty"`
	CredentialsFile string `json:"credentials_file,omitempty"`

	// 附加到系统提示词之后的说明
	Instruction string `json:"instruction,omitempty"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Name:        "openai",
		Model:       "gpt-4o-mini",
		SourceLang:  "English",
		TargetLang:  "Chinese",
		Temperature: 0.3,
		Timeout:     5 * time.Minute,
		Region:      "us-central1",
	}
}

// SystemPrompt 构建翻译用的系统提示词
func SystemPrompt(cfg Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a professional translator. Translate the user's text from %s to %s.\n", cfg.SourceLang, cfg.TargetLang)
	b.WriteString("Keep the original line structure, headings, list markers and emphasis markers.\n")
	b.WriteString("Tokens of the form <||img_placeholder_...||> must be copied exactly, in the same position. Never invent new ones.\n")
	b.WriteString("Return only the translation without explanations.")
	if cfg.Instruction != "" {
		b.WriteString("\n\n")
		b.WriteString(cfg.Instruction)
	}
	return b.String()
}

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot assist",
	"i cannot provide",
	"i'm sorry, but i can't",
	"as a large language model",
}

// CheckOutput 检查模型输出，空结果或拒答返回内容被拒绝错误
func CheckOutput(out string) (string, error) {
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return "", transform.NewContentRejectedError(transform.KindEmpty, "empty response", transform.ErrEmptyOutput)
	}
	head := strings.ToLower(trimmed)
	if len(head) > 200 {
		head = head[:200]
	}
	for _, phrase := range refusalPhrases {
		if strings.HasPrefix(head, phrase) {
			return "", transform.NewContentRejectedError(transform.KindRefusal, "model refused the request", nil)
		}
	}
	return out, nil
}
