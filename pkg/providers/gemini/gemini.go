// Package gemini 基于 Vertex AI 的 Gemini 后端
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/nerdneilsfield/go-book-translator/pkg/providers"
	"github.com/nerdneilsfield/go-book-translator/pkg/transform"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Provider Gemini 后端
type Provider struct {
	config providers.Config
	client *genai.Client
	model  *genai.GenerativeModel
}

var _ transform.Service = (*Provider)(nil)

// New 创建 Gemini 后端
func New(ctx context.Context, config providers.Config) (*Provider, error) {
	if config.Project == "" || config.Region == "" {
		return nil, fmt.Errorf("gemini: project and region cannot be empty")
	}

	var opts []option.ClientOption
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}
	client, err := genai.NewClient(ctx, config.Project, config.Region, opts...)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := client.GenerativeModel(config.Model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(providers.SystemPrompt(config))},
	}
	model.SetTemperature(float32(config.Temperature))
	if config.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(config.MaxTokens))
	}
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockOnlyHigh},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockOnlyHigh},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockOnlyHigh},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockOnlyHigh},
	}

	return &Provider{config: config, client: client, model: model}, nil
}

// Close 关闭底层客户端
func (p *Provider) Close() error {
	return p.client.Close()
}

// Transform 翻译一段文本
func (p *Provider) Transform(ctx context.Context, text string) (string, error) {
	resp, err := p.model.GenerateContent(ctx, genai.Text(text))
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Candidates) == 0 {
		return "", transform.NewContentRejectedError(transform.KindEmpty, "no candidates returned", nil)
	}

	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety {
		return "", transform.NewContentRejectedError(transform.KindSafety, "candidate blocked by safety filter", nil)
	}
	return providers.CheckOutput(extractText(cand))
}

// extractText 拼接候选结果中的所有文本片段
func extractText(cand *genai.Candidate) string {
	if cand == nil || cand.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

func classify(err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return transform.NewContentRejectedError(transform.KindSafety, "prompt or response blocked", err)
	}
	if kind, class, ok := codeKind(status.Code(err)); ok {
		switch class {
		case transform.ClassPermanent:
			return transform.NewPermanentError(kind, "vertex ai request failed", err)
		default:
			return transform.NewTransientError(kind, "vertex ai request failed", err)
		}
	}
	return transform.Classify(err)
}

// codeKind 把 gRPC 状态码映射到失败分类
func codeKind(code codes.Code) (transform.Kind, transform.Class, bool) {
	switch code {
	case codes.ResourceExhausted:
		return transform.KindRateLimited, transform.ClassTransient, true
	case codes.DeadlineExceeded:
		return transform.KindTimeout, transform.ClassTransient, true
	case codes.Unavailable:
		return transform.KindUnavailable, transform.ClassTransient, true
	case codes.Internal, codes.Aborted:
		return transform.KindInternal, transform.ClassTransient, true
	case codes.Unauthenticated:
		return transform.KindUnauthenticated, transform.ClassPermanent, true
	case codes.InvalidArgument, codes.FailedPrecondition, codes.NotFound:
		return transform.KindInvalidRequest, transform.ClassPermanent, true
	case codes.PermissionDenied:
		return transform.KindPermissionDenied, transform.ClassPermanent, true
	}
	return "", "", false
}
