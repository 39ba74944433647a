package main

import (
	"context"
	"errors"
	"fmt"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
	"loanservicing/config"
	"loanservicing/controllers"
	"loanservicing/database"
	"loanservicing/middleware"
	"loanservicing/services"
	"loanservicing/utils"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// app набор сервисов, собранных для одного процесса
type app struct {
	cfg          *config.Config
	metrics      *utils.LedgerMetrics
	registry     *services.StatusRegistry
	validator    *services.TransitionValidator
	events       *services.PaymentEventService
	applications *services.ApplicationService
	refinancing  *services.RefinancingService
	wallet       *services.WalletService
	users        *services.UserService
	scheduler    *services.PaymentSchedulerService
	dispatcher   *services.AsyncDispatcher
}

// loadWorkflows читает таблицы переходов из файла или встроенные по умолчанию
func loadWorkflows(cfg *config.Config, registry *services.StatusRegistry) (*services.WorkflowTable, error) {
	if cfg.Ledger.WorkflowsFile != "" {
		return services.LoadWorkflowsFile(cfg.Ledger.WorkflowsFile, registry)
	}
	return services.DefaultWorkflows(registry)
}

// newApp собирает сервисы журнала поверх подключения к базе
func newApp(cfg *config.Config, db *gorm.DB, metrics *utils.LedgerMetrics) (*app, error) {
	flags := cfg.FeatureFlags()
	registry := services.DefaultStatusRegistry()

	workflows, err := loadWorkflows(cfg, registry)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки таблиц переходов: %w", err)
	}

	validator := services.NewTransitionValidator(workflows, registry, metrics)
	loans := services.NewLoanStatusService(validator, flags)
	ledger := services.NewPaymentLedger(validator, flags, services.NewLoanLateFeeCap(flags), loans, metrics)
	recorder := services.NewPaymentEventRecorder(ledger, metrics)
	waivers := services.NewWaiverEngine(recorder, flags, metrics)
	refinancing := services.NewRefinancingService(db, loans)
	wallet := services.NewWalletService(db)
	emailService := services.NewEmailService(cfg, db)

	// Побочные эффекты после коммита
	dispatcher := services.NewAsyncDispatcher(cfg.Dispatcher.MaxAttempts, cfg.Dispatcher.Backoff, metrics)
	wallet.RegisterHandlers(dispatcher)
	emailService.RegisterHandlers(dispatcher)

	applications, err := services.NewApplicationService(db, validator, loans, dispatcher)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:          cfg,
		metrics:      metrics,
		registry:     registry,
		validator:    validator,
		events:       services.NewPaymentEventService(db, recorder, waivers, refinancing, wallet, dispatcher),
		applications: applications,
		refinancing:  refinancing,
		wallet:       wallet,
		users:        services.NewUserService(db),
		scheduler:    services.NewPaymentSchedulerService(db, ledger, loans, refinancing, flags, dispatcher),
		dispatcher:   dispatcher,
	}, nil
}

// healthHandler отвечает на проверку доступности
func healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Write([]byte("ok"))
}

// newRouter регистрирует маршруты HTTP API
func newRouter(a *app) *mux.Router {
	router := mux.NewRouter()

	authController := controllers.NewAuthController(a.users, a.cfg)
	eventController := controllers.NewPaymentEventController(a.events)
	applicationController := controllers.NewApplicationController(a.applications, a.refinancing)
	walletController := controllers.NewWalletController(a.wallet)
	workflowController := controllers.NewWorkflowController(a.validator, a.registry)

	router.HandleFunc("/health", healthHandler)
	router.Handle("/metrics", a.metrics.Handler()).Methods("GET")

	// Публичные маршруты для аутентификации
	router.HandleFunc("/api/auth/signUp", authController.SignUp).Methods("POST")
	router.HandleFunc("/api/auth/signIn", authController.SignIn).Methods("POST")

	// Лимит запросов на пользователя общий для mux и gin маршрутов
	limiter := utils.NewRateLimiter(a.cfg.RateLimit.Requests, a.cfg.RateLimit.Window)

	// Справочник таблиц переходов обслуживает gin
	router.PathPrefix("/api/workflows").Handler(workflowController.Engine(authController.JWTKey(), limiter, a.metrics))

	// Защищенные маршруты
	protected := router.PathPrefix("/api").Subrouter()
	protected.Use(middleware.AuthMiddleware(authController.JWTKey()))
	protected.Use(middleware.RateLimitMiddleware(limiter))
	protected.Use(middleware.LoggingMiddleware(a.metrics))

	// События по платежам и прощение долга
	protected.HandleFunc("/payments/{id}/events", eventController.AddEvent).Methods("POST")
	protected.HandleFunc("/payments/{id}/events", eventController.ListEvents).Methods("GET")
	protected.HandleFunc("/payment-events/{id}/reverse", eventController.ReverseEvent).Methods("POST")
	protected.HandleFunc("/payments/{id}/waivers", eventController.ApplyWaiver).Methods("POST")
	protected.HandleFunc("/payments/{id}/waivers/remaining", eventController.RemainingWaivable).Methods("GET")

	// Заявки и кредиты
	protected.HandleFunc("/applications", applicationController.CreateApplication).Methods("POST")
	protected.HandleFunc("/applications/{id}/status", applicationController.ChangeStatus).Methods("POST")
	protected.HandleFunc("/applications/{id}/next", applicationController.NextSteps).Methods("GET")
	protected.HandleFunc("/applications/{id}/loan", applicationController.GetLoan).Methods("GET")
	protected.HandleFunc("/loans/{id}/refinancing", applicationController.ApproveRefinancing).Methods("POST")

	// Кошелек
	protected.HandleFunc("/wallet", walletController.GetWallet).Methods("GET")
	protected.HandleFunc("/customers/{id}/cashback", walletController.EarnCashback).Methods("POST")

	return router
}

// loadConfig читает конфигурацию и включает логирование
func loadConfig() (*config.Config, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}
	if err := utils.InitLogger(cfg.Log.Level, cfg.Log.OutputPaths); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer utils.SyncLogger()

	// Инициализируем подключение к базе данных
	db, err := database.Connect(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	cfg.FeatureFlags().Watch()

	a, err := newApp(cfg, db.DB, utils.NewLedgerMetrics(nil))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Запускаем планировщик платежей
	if cfg.Scheduler.Enabled {
		a.scheduler.Start(ctx, cfg.Scheduler.StatusInterval, cfg.Scheduler.LateFeeInterval)
		utils.LogInfo("Планировщик платежей запущен")
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           newRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			utils.LogError("Ошибка остановки сервера: %v", err)
		}
	}()

	utils.LogInfo("Сервер запущен на порту %d", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ошибка запуска сервера: %w", err)
	}

	// Дожидаемся доставки уведомлений, поставленных до остановки
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Dispatcher.ShutdownTimeout)
	defer cancel()
	a.dispatcher.Shutdown(shutdownCtx)
	utils.LogInfo("Сервер остановлен")
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer utils.SyncLogger()

	db, err := database.Connect(cfg)
	if err != nil {
		return err
	}
	utils.LogInfo("Миграции выполнены")
	return db.Close()
}

func checkWorkflows(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.Ledger.WorkflowsFile = args[0]
	}

	workflows, err := loadWorkflows(cfg, services.DefaultStatusRegistry())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, name := range workflows.Names() {
		wf, err := workflows.Get(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\t%s\tinitial=%d\trules=%d\n", wf.Name, wf.Domain, wf.InitialStatus, len(wf.Rules))
	}
	return nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "loanservicing",
		Short:         "Журнал платежей и статусы кредитов",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Запустить HTTP API и планировщик",
			RunE:  serve,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Выполнить миграции базы данных",
			RunE:  runMigrate,
		},
		&cobra.Command{
			Use:   "workflows [file]",
			Short: "Проверить таблицы переходов и вывести сводку",
			Args:  cobra.MaximumNArgs(1),
			RunE:  checkWorkflows,
		},
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
