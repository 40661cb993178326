package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerdneilsfield/go-book-translator/internal/config"
	"github.com/nerdneilsfield/go-book-translator/internal/jobstore"
	"github.com/nerdneilsfield/go-book-translator/internal/logger"
	"github.com/nerdneilsfield/go-book-translator/internal/progress"
	"github.com/nerdneilsfield/go-book-translator/internal/storage"
	"github.com/nerdneilsfield/go-book-translator/internal/translator"
	"github.com/nerdneilsfield/go-book-translator/pkg/providers/factory"
	"github.com/nerdneilsfield/go-book-translator/pkg/transform"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// 命令行标志变量
	cfgFile         string
	sourceLang      string
	targetLang      string
	outputLocation  string
	outputFormat    string
	providerName    string
	modelName       string
	baseURL         string
	concurrency     int
	chunkLimit      int
	noChunking      bool
	suffix          string
	overwrite       bool
	noResume        bool
	jobStorePath    string
	glossaryPath    string
	requestsPerMin  int
	credentialsFile string
	debugMode       bool
	logFile         string
	noProgress      bool
)

// NewRootCommand 创建根命令
func NewRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "translator [flags] input [input...]",
		Short: "按块翻译文档，保留图片与结构",
		Long: `translator 把文本、Markdown、HTML、DOCX 和 EPUB 文档交给翻译服务逐块翻译。
图片等资源在翻译期间替换为占位符，之后原样恢复；EPUB 按章节并发翻译并重建容器，
翻译失败的章节保留原文。

按一次 Ctrl+C 在当前分块完成后结束并写出已完成的部分，再按一次立即取消。

支持的翻译服务:
  - openai: OpenAI Chat Completions
  - openai-compatible: 兼容 OpenAI 接口的服务（需要 --base-url）
  - gemini: Vertex AI Gemini
  - raw: 不调用服务，原样输出（用于检查流程）`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runTranslate,
	}

	addGlobalFlags(rootCmd)
	addTranslateFlags(rootCmd)

	rootCmd.AddCommand(NewStatusCommand())
	rootCmd.AddCommand(NewFormatsCommand())

	return rootCmd
}

// addGlobalFlags 添加全局标志
func addGlobalFlags(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径（默认 ~/.translator.yaml）")
	rootCmd.PersistentFlags().StringVar(&jobStorePath, "job-store", "", "任务进度存储（.db 使用 SQLite，否则为目录）")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "启用调试日志")
}

func addTranslateFlags(rootCmd *cobra.Command) {
	flags := rootCmd.Flags()
	flags.StringVarP(&outputLocation, "output", "o", ".", "输出目录、gs://bucket/prefix，或单个输入时的输出文件")
	flags.StringVarP(&outputFormat, "format", "f", "", "扁平文档的输出格式 (text, markdown, html, docx, epub)")
	flags.StringVar(&sourceLang, "source", "", "源语言")
	flags.StringVar(&targetLang, "target", "", "目标语言")
	flags.StringVarP(&providerName, "provider", "p", "", "翻译服务")
	flags.StringVarP(&modelName, "model", "m", "", "模型名称")
	flags.StringVar(&baseURL, "base-url", "", "服务地址")
	flags.IntVarP(&concurrency, "concurrency", "c", 0, "同时翻译的单元数")
	flags.IntVar(&chunkLimit, "chunk-limit", 0, "单块最大字符数")
	flags.BoolVar(&noChunking, "no-chunking", false, "整个单元一次提交")
	flags.StringVar(&suffix, "suffix", "", "翻译后文件名后缀")
	flags.BoolVar(&overwrite, "overwrite", false, "覆盖已存在的输出")
	flags.BoolVar(&noResume, "no-resume", false, "忽略上次运行的进度")
	flags.StringVar(&glossaryPath, "glossary", "", "TOML 术语表")
	flags.IntVar(&requestsPerMin, "rpm", 0, "每分钟最多请求数，0 表示不限")
	flags.StringVar(&credentialsFile, "credentials", "", "访问 gs:// 使用的凭据文件")
	flags.StringVar(&logFile, "log-file", "", "同时写入日志文件")
	flags.BoolVar(&noProgress, "no-progress", false, "不显示进度条")
}

// updateConfigFromFlags 使用命令行参数覆盖配置
func updateConfigFromFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("source") {
		cfg.SourceLang = sourceLang
	}
	if flags.Changed("target") {
		cfg.TargetLang = targetLang
	}
	if flags.Changed("format") {
		cfg.OutputFormat = outputFormat
	}
	if flags.Changed("provider") {
		cfg.Provider.Name = providerName
	}
	if flags.Changed("model") {
		cfg.Provider.Model = modelName
	}
	if flags.Changed("base-url") {
		cfg.Provider.BaseURL = baseURL
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency = concurrency
	}
	if flags.Changed("chunk-limit") {
		cfg.Chunk.Limit = chunkLimit
	}
	if flags.Changed("no-chunking") {
		cfg.Chunk.Enabled = !noChunking
	}
	if flags.Changed("suffix") {
		cfg.Suffix = suffix
	}
	if flags.Changed("overwrite") {
		cfg.Overwrite = overwrite
	}
	if flags.Changed("no-resume") {
		cfg.Resume = !noResume
	}
	if flags.Changed("job-store") {
		cfg.JobStore = jobStorePath
	}
	if flags.Changed("glossary") {
		cfg.Glossary = glossaryPath
	}
	if flags.Changed("rpm") {
		cfg.RequestsPerMinute = requestsPerMin
	}
	if flags.Changed("credentials") {
		cfg.CredentialsFile = credentialsFile
	}
	if flags.Changed("debug") {
		cfg.Debug = debugMode
	}
	if flags.Changed("log-file") {
		cfg.LogFile = logFile
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	updateConfigFromFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// runTranslate 执行翻译任务
func runTranslate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	showProgress := !noProgress && !pterm.RawOutput
	log, closeLog, err := logger.NewLoggerWithOptions(logger.Options{
		Debug: cfg.Debug,
		Quiet: showProgress,
		File:  cfg.LogFile,
	})
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer closeLog()

	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()

	client, err := newClient(ctx, cfg, log)
	if err != nil {
		return err
	}

	plan, err := planOutputs(args, outputLocation, cfg)
	if err != nil {
		return err
	}
	docs, failures, err := loadDocuments(ctx, plan, cfg, log)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		summary := &translator.Summary{}
		for _, f := range failures {
			summary.RecordFailure(f.name, f.err)
		}
		printSummary(os.Stdout, summary, progress.NewTracker(log), 0)
		return fmt.Errorf("no input could be loaded")
	}

	sink, err := storage.Open(ctx, plan.location, cfg.Overwrite, cfg.CredentialsFile)
	if err != nil {
		return fmt.Errorf("failed to open output %s: %w", plan.location, err)
	}
	defer sink.Close()

	options := []translator.Option{translator.WithLogger(log)}
	if cfg.JobStore != "" {
		store, err := jobstore.Open(cfg.JobStore)
		if err != nil {
			return fmt.Errorf("failed to open job store: %w", err)
		}
		defer store.Close()
		options = append(options, translator.WithStore(store))
	}

	tracker := progress.NewTracker(log)
	observers := []progress.Observer{tracker}
	var view *progressView
	if showProgress {
		view = newProgressView()
		observers = append(observers, view)
	}
	options = append(options, translator.WithObserver(progress.Multi(observers...)))

	coord := translator.NewCoordinator(client, sink, cfg.Options(), options...)
	stopSignals := handleSignals(coord)
	defer stopSignals()

	start := time.Now()
	summary, runErr := coord.Run(ctx, docs)
	if view != nil {
		view.Stop()
	}
	if summary != nil {
		for _, f := range failures {
			summary.RecordFailure(f.name, f.err)
		}
		printSummary(os.Stdout, summary, tracker, time.Since(start))
	}
	return runErr
}

// newClient 创建带重试与限速的转换客户端
func newClient(ctx context.Context, cfg *config.Config, log *zap.Logger) (*transform.Client, error) {
	pc, err := cfg.ProviderOptions()
	if err != nil {
		return nil, err
	}
	service, err := factory.New(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}
	opts := []transform.ClientOption{transform.WithLogger(log)}
	if cfg.RequestsPerMinute > 0 {
		opts = append(opts, transform.WithPacer(transform.NewPacer(cfg.RequestsPerMinute)))
	}
	return transform.NewClient(service, cfg.RetryPolicy(), opts...), nil
}

// handleSignals 第一次中断优雅结束，第二次硬取消
func handleSignals(coord *translator.Coordinator) func() {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		count := 0
		for {
			select {
			case <-done:
				return
			case <-ch:
				count++
				if count == 1 {
					pterm.Warning.Println("finishing after in-flight chunks, press Ctrl+C again to cancel")
					coord.FinishGracefully()
					continue
				}
				pterm.Error.Println("cancelling")
				coord.Cancel()
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
