package app

import (
	"time"

	"github.com/go-redis/redis"
	"gorm.io/gorm"

	"github.com/vocalis-ai/vocalis/internal/config"
	"github.com/vocalis-ai/vocalis/internal/domains/binding"
	"github.com/vocalis-ai/vocalis/internal/domains/dialogue"
	"github.com/vocalis-ai/vocalis/internal/domains/listen"
	"github.com/vocalis-ai/vocalis/internal/domains/session"
	ws "github.com/vocalis-ai/vocalis/internal/handlers/websocket"
	convoRepo "github.com/vocalis-ai/vocalis/internal/repository/conversation"
	deviceRepo "github.com/vocalis-ai/vocalis/internal/repository/device"
	roleRepo "github.com/vocalis-ai/vocalis/internal/repository/role"
	"github.com/vocalis-ai/vocalis/internal/types"
	"github.com/vocalis-ai/vocalis/pkg/Logger"
	"github.com/vocalis-ai/vocalis/pkg/audio"
	"github.com/vocalis-ai/vocalis/pkg/engine"
	"github.com/vocalis-ai/vocalis/pkg/tasks"
	"github.com/vocalis-ai/vocalis/pkg/tools"
)

const defaultHistoryLimit = 20

// App holds every long-lived component, wired once at startup.
type App struct {
	Config *config.Settings
	Logger *Logger.Logger
	DB     *gorm.DB
	RC     *redis.Client

	Devices  types.DeviceDirectory
	Roles    types.RoleConfigStore
	Turns    types.TurnStore
	Registry *session.Registry
	Runner   *tasks.Runner
	Factory  *engine.Factory
	WS       *ws.Handler
}

// NewApp creates the application with all dependencies properly wired.
func NewApp(cfg *config.Settings, logger *Logger.Logger, db *gorm.DB, rc *redis.Client) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
		DB:     db,
		RC:     rc,
	}
	if err := a.setupDependencies(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) setupDependencies() error {
	cfg := a.Config

	// repositories
	a.Devices = deviceRepo.NewGormDeviceRepo(a.DB)
	a.Roles = roleRepo.NewGormRoleRepo(a.DB)
	msgTTL := time.Duration(cfg.Dialogue.MsgTTLMins) * time.Minute
	a.Turns = convoRepo.NewGormTurnRepo(a.DB, a.RC, a.Logger, msgTTL)

	// dialogue-engine factory with one builder per provider kind
	a.Factory = engine.NewFactory()
	registerEngineBuilders(a.Factory, cfg.Providers)

	// shared runtime pieces
	a.Registry = session.NewRegistry(a.Logger)
	a.Runner = tasks.NewRunner(a.Logger)
	capture := audio.NewCaptureManager(a.Logger)
	synth := audio.NewHTTPSynthesizer(cfg.TTS.BaseURL, cfg.TTS.Voice, cfg.TTS.OutDir)

	recent := tools.NewRecentCalls(cfg.Dialogue.ToolRecencyWindow())
	executor := tools.NewExecutor(recent)
	resolver := dialogue.NewAttributionResolver(a.Logger, executor, recent)

	// transport sender doubles as sentence delivery, interrupter and
	// provisioning notifier
	sender := ws.NewSender(a.Logger, synth)

	pipeline := dialogue.NewPipeline(
		a.Logger, a.Roles, a.Turns, a.Factory,
		capture, sender, resolver, executor, recent, a.Runner,
	)
	listenCoord := listen.NewCoordinator(a.Logger, capture, pipeline, sender)

	historyLimit := cfg.Dialogue.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	bindingCoord := binding.NewCoordinator(
		a.Logger, a.Devices, a.Roles, a.Turns, a.Factory,
		synth, sender, a.Registry, a.Runner,
		cfg.Dialogue.CaptchaReleaseDelay(), historyLimit,
	)

	router := ws.NewRouter(a.Logger, a.Registry, listenCoord, a.Devices, sender, a.Runner)
	a.WS = ws.NewHandler(a.Logger, a.Registry, bindingCoord, listenCoord, router, capture)

	return nil
}
