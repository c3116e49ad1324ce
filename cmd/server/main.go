package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"k8s.io/klog/v2"

	"github.com/vividoc/backend/config"
	"github.com/vividoc/backend/internal/domain"
	"github.com/vividoc/backend/internal/eventbus"
	"github.com/vividoc/backend/internal/handler"
	"github.com/vividoc/backend/internal/pkg/database"
	"github.com/vividoc/backend/internal/pkg/llm"
	"github.com/vividoc/backend/internal/pkg/metrics"
	"github.com/vividoc/backend/internal/repository"
	"github.com/vividoc/backend/internal/router"
	"github.com/vividoc/backend/internal/service"
	"github.com/vividoc/backend/internal/service/jobtracker"
	"github.com/vividoc/backend/internal/service/pipeline"
	"github.com/vividoc/backend/internal/service/qualitygate"
	"github.com/vividoc/backend/internal/service/unitprocessor"
	"github.com/vividoc/backend/internal/service/validator"
	"github.com/vividoc/backend/internal/subscriber"
)

func main() {
	// 初始化 klog
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	klog.V(6).Info("服务启动中...")

	cfg := config.GetConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	if err := os.MkdirAll(cfg.Data.Dir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	// 初始化数据库
	db, err := database.InitDB(cfg.Database.Type, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// 初始化 Repository
	store := repository.NewStore(repository.NewEntityRepository(db))
	jobRepo := repository.NewJobRecordRepository(db)

	cleanupJobRecords(jobRepo, cfg.Jobs.RecordRetention)

	// 初始化模型协作方
	ctx := context.Background()
	chatModel, err := llm.NewChatModel(ctx, cfg.LLM)
	if err != nil {
		log.Fatalf("Failed to create chat model: %v", err)
	}
	generator, err := llm.NewGenerator(ctx, chatModel)
	if err != nil {
		log.Fatalf("Failed to create generator: %v", err)
	}
	repairer, err := llm.NewRepairer(ctx, chatModel)
	if err != nil {
		log.Fatalf("Failed to create repairer: %v", err)
	}
	planner, err := llm.NewPlanner(ctx, chatModel)
	if err != nil {
		log.Fatalf("Failed to create planner: %v", err)
	}
	var assessor domain.CoherenceAssessor
	if cfg.Pipeline.Assessor == "heuristic" {
		assessor = qualitygate.NewHeuristicAssessor()
	} else {
		assessor, err = llm.NewAssessor(ctx, chatModel)
		if err != nil {
			log.Fatalf("Failed to create assessor: %v", err)
		}
	}

	// 初始化流水线
	val := validator.New()
	processor := unitprocessor.New(generator, repairer, val, unitprocessor.Options{
		MaxFixAttempts: cfg.Pipeline.MaxFixAttempts,
		CallTimeout:    cfg.Pipeline.CallTimeout,
	})
	gate := qualitygate.New(assessor, val)
	orchestrator := pipeline.New(planner, processor, gate, store, pipeline.OptionsFromConfig(cfg.Pipeline))

	// 初始化任务执行器
	runner, err := jobtracker.NewRunner(cfg.Jobs.Workers, cfg.Jobs.QueueSize)
	if err != nil {
		log.Fatalf("Failed to create job runner: %v", err)
	}
	runner.Start()
	defer runner.Stop()

	bus := eventbus.NewJobEventBus()
	subscriber.NewJobEventSubscriber(jobRepo, metrics.Get()).Register(bus)
	tracker := jobtracker.New(runner, bus)

	// 初始化 Service
	specService := service.NewSpecService(orchestrator, tracker, store)
	docService := service.NewDocumentService(orchestrator, tracker, store, specService)

	// 初始化 Handler
	specHandler := handler.NewSpecHandler(specService)
	docHandler := handler.NewDocumentHandler(docService)
	jobHandler := handler.NewJobHandler(service.NewJobService(tracker, jobRepo))
	configHandler := handler.NewConfigHandler(cfg, config.Path())

	// 设置路由
	r := router.Setup(cfg, specHandler, docHandler, jobHandler, configHandler)

	log.Printf("Server starting on port %s...", cfg.Server.Port)
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// cleanupJobRecords 启动时清理过期的任务记录
func cleanupJobRecords(repo repository.JobRecordRepository, retention time.Duration) {
	if retention <= 0 {
		return
	}

	affected, err := repo.DeleteBefore(time.Now().Add(-retention))
	if err != nil {
		klog.V(6).Infof("清理任务记录失败: %v", err)
		return
	}

	if affected > 0 {
		klog.V(6).Infof("启动时清理了 %d 条过期任务记录", affected)
	}
}
