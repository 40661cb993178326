package cli

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"

	"github.com/nerdneilsfield/go-book-translator/internal/config"
	"github.com/nerdneilsfield/go-book-translator/internal/container"
	"github.com/nerdneilsfield/go-book-translator/internal/document"
	"github.com/nerdneilsfield/go-book-translator/internal/storage"
	"github.com/nerdneilsfield/go-book-translator/internal/translator"
	"go.uber.org/zap"
)

// plannedInput 一个输入及其输出文件名
type plannedInput struct {
	path   string
	input  document.Format
	output document.Format
	name   string
}

// outputPlan 输出目标和每个输入的文件名
type outputPlan struct {
	location string
	inputs   []plannedInput
}

// planOutputs 决定输出位置与文件名。单个输入且 -o 带有可识别的扩展名时视为输出文件。
func planOutputs(args []string, output string, cfg *config.Config) (*outputPlan, error) {
	var override document.Format
	if cfg.OutputFormat != "" {
		f, err := parseFormat(cfg.OutputFormat)
		if err != nil {
			return nil, err
		}
		override = f
	}

	plan := &outputPlan{location: output}
	var fileName string
	if len(args) == 1 {
		if f, err := document.DetectFormat(output); err == nil {
			dir, name := splitLocation(output)
			plan.location, fileName = dir, name
			if override == "" {
				override = f
			}
		}
	}

	seen := make(map[string]string)
	for _, arg := range args {
		in, err := document.DetectFormat(arg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", arg, err)
		}
		out := override
		// 容器输入总是输出容器
		if out == "" || in == document.Container {
			out = in
		}
		name := fileName
		if name == "" || out != override {
			name = translator.OutputName(arg, out, cfg.Suffix)
		}
		if prev, ok := seen[name]; ok {
			return nil, fmt.Errorf("%s and %s would both be written to %s", prev, arg, name)
		}
		seen[name] = arg
		plan.inputs = append(plan.inputs, plannedInput{path: arg, input: in, output: out, name: name})
	}
	return plan, nil
}

// splitLocation 把输出文件位置拆成目录和文件名
func splitLocation(s string) (string, string) {
	loc, err := storage.ParseLocation(s)
	if err != nil || !loc.IsRemote() {
		return filepath.Dir(s), filepath.Base(s)
	}
	dir := path.Dir(loc.Path)
	if dir == "." {
		dir = ""
	}
	return storage.Location{Bucket: loc.Bucket, Path: dir}.String(), path.Base(loc.Path)
}

// loadFailure 无法载入的输入，不影响其它文档
type loadFailure struct {
	name string
	err  error
}

// loadDocuments 读取所有输入。结构损坏的容器只记录失败，其余输入照常载入。
func loadDocuments(ctx context.Context, plan *outputPlan, cfg *config.Config, log *zap.Logger) ([]*translator.Document, []loadFailure, error) {
	docs := make([]*translator.Document, 0, len(plan.inputs))
	var failures []loadFailure
	for _, in := range plan.inputs {
		doc, err := loadDocument(ctx, in, cfg)
		if err != nil {
			var se *container.StructuralError
			if !errors.As(err, &se) {
				return nil, nil, err
			}
			log.Error("skipping unreadable container", zap.String("input", in.path), zap.Error(err))
			failures = append(failures, loadFailure{name: in.path, err: err})
			continue
		}
		log.Debug("loaded document",
			zap.String("input", in.path),
			zap.String("format", string(in.input)),
			zap.String("output", in.name))
		docs = append(docs, doc)
	}
	return docs, failures, nil
}

func loadDocument(ctx context.Context, in plannedInput, cfg *config.Config) (*translator.Document, error) {
	loc, err := storage.ParseLocation(in.path)
	if err != nil {
		return nil, err
	}

	if in.input == document.Container {
		var c *container.Container
		if loc.IsRemote() {
			data, err := storage.ReadFile(ctx, in.path, cfg.CredentialsFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", in.path, err)
			}
			c, err = container.Open(data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", in.path, err)
			}
		} else if c, err = container.OpenFile(in.path); err != nil {
			return nil, fmt.Errorf("%s: %w", in.path, err)
		}
		return translator.NewContainerDocument(in.path, c, in.name), nil
	}

	var flat *document.Flat
	if loc.IsRemote() {
		data, err := storage.ReadFile(ctx, in.path, cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", in.path, err)
		}
		// 远程文档的相对图片无法解析，保留原始引用
		flat, err = document.Read(in.path, data, nil)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", in.path, err)
		}
	} else if flat, err = document.ReadFile(in.path); err != nil {
		return nil, fmt.Errorf("%s: %w", in.path, err)
	}
	return translator.NewFlatDocument(flat, in.name, in.output), nil
}
