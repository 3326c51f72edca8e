package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"design-ai/internal/aicontext"
	"design-ai/internal/config"
	"design-ai/internal/conversation"
	"design-ai/internal/events"
	"design-ai/internal/host"
	"design-ai/internal/mcp"
	"design-ai/internal/orchestrator"
	"design-ai/internal/pkg/errors"
	"design-ai/internal/provider"
	"design-ai/internal/tools"
	"design-ai/internal/util"
)

// 命令的初始化级别注解：initNone 不做任何初始化，initConfigOnly 只加载配置与日志
const (
	initAnnotation = "design-ai/init"
	initNone       = "none"
	initConfigOnly = "config"
)

var (
	// configPath 是配置文件的路径
	configPath string
	// verbose 标志用于启用详细输出
	verbose bool

	registry   *provider.Registry
	catalog    *tools.Catalog
	router     *tools.Router
	mcpService *mcp.MCPService
	document   *host.Document
	bus        *events.Bus
	orch       *orchestrator.Orchestrator
)

// rootCmd 代表没有调用子命令时的基础命令
var rootCmd = &cobra.Command{
	Use:   "design-ai",
	Short: "设计画布 AI 助手",
	Long: `design-ai 为设计画布提供 AI 对话能力，
支持多个模型提供方的自动回退、画布工具调用与 MCP 工具扩展。`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initializeApp(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		shutdownApp()
	},
	Run: func(cmd *cobra.Command, args []string) {
		showStatus()
	},
}

// Execute 执行根命令，由 main.main() 调用
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "命令执行失败: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径 (默认: $DESIGN_AI_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "详细输出")
}

// initializeApp 初始化应用
func initializeApp(cmd *cobra.Command) error {
	if cmd.Annotations[initAnnotation] == initNone {
		return nil
	}
	if configPath == "" {
		configPath = os.Getenv("DESIGN_AI_CONFIG")
	}

	if err := config.LoadConfig(configPath); err != nil {
		return errors.WrapError(errors.ErrCodeConfigInvalid, "配置加载失败", err)
	}
	cfg := config.Config

	logLevel := cfg.Logging.Level
	if verbose {
		logLevel = "debug"
	}
	if err := util.InitLogger(logLevel, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.File); err != nil {
		return errors.WrapError(errors.ErrCodeConfigInvalid, "日志系统初始化失败", err)
	}

	util.Debugw("配置详情", map[string]any{
		"default_provider": cfg.AI.DefaultProvider,
		"fallback_chain":   cfg.AI.FallbackChain,
		"log_level":        logLevel,
		"config_path":      configPath,
	})

	if cmd.Annotations[initAnnotation] == initConfigOnly {
		return nil
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var err error
	registry, err = provider.NewRegistryFromConfig(ctx, cfg)
	if err != nil {
		return errors.WrapError(errors.ErrCodeInitializationFailed, "适配器注册表初始化失败", err)
	}

	if err := initializeTools(ctx, cfg); err != nil {
		return errors.WrapError(errors.ErrCodeInitializationFailed, "工具初始化失败", err)
	}

	return initializeOrchestrator(cfg)
}

// initializeTools 加载画布文档，登记画布工具与 MCP 工具
func initializeTools(ctx context.Context, cfg *config.AppConfig) error {
	if cfg.Host.SceneFile != "" {
		doc, err := host.LoadDocument(cfg.Host.SceneFile)
		if err != nil {
			return err
		}
		doc.SetAutoSave(true)
		document = doc
	} else {
		document = host.NewDocument("未命名")
	}

	timeout := time.Duration(cfg.AI.Timeout) * time.Second
	catalog = tools.NewCatalog()
	local := tools.NewLocalExecutor(timeout)
	if err := host.RegisterDesignTools(document, local, catalog); err != nil {
		return err
	}

	router = tools.NewRouter()
	router.Handle("", local)

	mcpService = mcp.NewMCPService(catalog, cfg.MCP.ConfigPath, time.Duration(cfg.MCP.Timeout)*time.Second)
	if err := mcpService.Initialize(ctx); err != nil {
		// MCP 不可用时画布工具仍然可用
		util.LogErrorWithFields(err, "MCP服务初始化失败", map[string]any{
			"config_path": cfg.MCP.ConfigPath,
		})
	}
	router.Handle(mcp.ToolPrefix, mcpService.Executor())

	util.Debugw("工具状态", map[string]any{
		"registered_tools": catalog.Len(),
		"mcp_tools":        len(mcpService.Tools()),
	})
	return nil
}

// initializeOrchestrator 组装对话历史、事件队列与编排器
func initializeOrchestrator(cfg *config.AppConfig) error {
	buildOpts, err := aicontext.OptionsFromConfig(cfg.Context)
	if err != nil {
		return err
	}

	store := conversation.NewStore(conversation.Limits{
		MaxHistory: cfg.Conversation.MaxHistory,
		MaxTokens:  cfg.Conversation.MaxTokens,
	})
	bus = events.NewBus(cfg.Events.BufferSize)

	orch = orchestrator.New(orchestrator.Deps{
		Providers:     registry,
		Store:         store,
		Assembler:     aicontext.NewAssembler(document, catalog),
		Executor:      router,
		Bus:           bus,
		Calibrator:    aicontext.NewViewportCalibrator(document),
		Screenshotter: document,
	}, orchestrator.Options{
		Build:             buildOpts,
		RecentMessages:    cfg.Conversation.RecentMessages,
		IncludeScreenshot: cfg.Context.IncludeScreenshot,
	})
	return nil
}

// shutdownApp 关闭 MCP 连接和事件队列
func shutdownApp() {
	if mcpService != nil {
		if err := mcpService.Shutdown(); err != nil {
			util.LogError(err, "关闭MCP服务失败")
		}
	}
	if bus != nil {
		bus.Close()
	}
}

// showStatus 显示应用状态
func showStatus() {
	fmt.Println("design-ai 初始化完成")
	fmt.Printf("画布文档: %s\n", document.Name())

	if active := registry.ActiveName(); active != "" {
		fmt.Printf("活动提供方: %s\n", active)
	} else {
		fmt.Println("活动提供方: 未配置")
	}
	fmt.Printf("已登记工具: %d\n", catalog.Len())
	fmt.Printf("日志级别: %s\n", config.Config.Logging.Level)
	fmt.Println("\n使用 'design-ai --help' 查看可用命令")
}
