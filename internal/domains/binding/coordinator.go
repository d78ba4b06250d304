package binding

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vocalis-ai/vocalis/internal/domains/session"
	"github.com/vocalis-ai/vocalis/internal/types"
	"github.com/vocalis-ai/vocalis/pkg/Logger"
	"github.com/vocalis-ai/vocalis/pkg/audio"
	"github.com/vocalis-ai/vocalis/pkg/engine"
	"github.com/vocalis-ai/vocalis/pkg/tasks"
)

// Device ids of browser-based chat clients embed the owning user id and are
// bound automatically instead of going through the captcha flow.
const virtualDevicePrefix = "user_chat_"

const virtualDeviceName = "小助手"

// Spoken provisioning notices.
const (
	noticeRoleUnconfigured = "设备未配置角色，请到角色配置页面完成配置后开始对话"
	noticeCaptchaPrefix    = "请到设备管理页面添加设备，输入验证码"
)

// Notifier delivers provisioning notices to a connected but unbound device.
type Notifier interface {
	VerificationNotice(s *session.Session, text, audioPath string) error
}

// Coordinator decides what happens when a device connects: bound devices get
// their conversation and engine warmed up, unbound ones are routed into
// provisioning.
type Coordinator struct {
	logger   *Logger.Logger
	devices  types.DeviceDirectory
	roles    types.RoleConfigStore
	turns    types.TurnStore
	factory  *engine.Factory
	synth    audio.Synthesizer
	notifier Notifier
	registry *session.Registry
	runner   *tasks.Runner
	gate     *captchaGate

	releaseDelay time.Duration
	historyLimit int
}

func NewCoordinator(
	logger *Logger.Logger,
	devices types.DeviceDirectory,
	roles types.RoleConfigStore,
	turns types.TurnStore,
	factory *engine.Factory,
	synth audio.Synthesizer,
	notifier Notifier,
	registry *session.Registry,
	runner *tasks.Runner,
	releaseDelay time.Duration,
	historyLimit int,
) *Coordinator {
	return &Coordinator{
		logger:       logger.Named("binding"),
		devices:      devices,
		roles:        roles,
		turns:        turns,
		factory:      factory,
		synth:        synth,
		notifier:     notifier,
		registry:     registry,
		runner:       runner,
		gate:         newCaptchaGate(),
		releaseDelay: releaseDelay,
		historyLimit: historyLimit,
	}
}

// OnConnect attaches the device record to the session and runs the path its
// binding state calls for. Returns true when normal message processing may
// continue, false when provisioning has taken over.
func (c *Coordinator) OnConnect(ctx context.Context, s *session.Session, deviceID string) bool {
	d, err := c.devices.Lookup(ctx, deviceID)
	if err != nil || d == nil {
		if err != nil {
			c.logger.Warnf("session %s: device lookup %s: %v", s.ID, deviceID, err)
		}
		d = &types.Device{DeviceID: deviceID, State: types.DeviceStateOnline}
	}
	d.SessionID = s.ID
	s.SetDevice(d)

	if d.Bound() {
		c.initializeBoundDevice(ctx, s, d)
		return true
	}
	return c.handleUnboundDevice(ctx, s, d)
}

// initializeBoundDevice loads the conversation synchronously, then hands the
// slow provider work to the runner. A failed warm-up is fatal for the
// session: a bound device with a dead engine cannot hold a dialogue.
func (c *Coordinator) initializeBoundDevice(ctx context.Context, s *session.Session, d *types.Device) {
	history, err := c.turns.History(ctx, d.DeviceID, *d.RoleID, c.historyLimit)
	if err != nil {
		c.logger.Warnf("session %s: history load failed, starting empty: %v", s.ID, err)
		history = nil
	}
	s.SetConversation(types.NewConversation(d.DeviceID, *d.RoleID, history))

	roleID := *d.RoleID
	c.runner.GoFatal("bound-device-init", func() error {
		return c.warmUp(s, d.DeviceID, roleID)
	}, func() {
		c.registry.Close(s.ID)
	})
}

func (c *Coordinator) warmUp(s *session.Session, deviceID string, roleID uint) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	roleCfg, err := c.roles.LoadRole(ctx, roleID)
	if err != nil {
		return fmt.Errorf("load role %d: %w", roleID, err)
	}
	if roleCfg.ModelID == nil {
		return fmt.Errorf("role %d has no model configured", roleID)
	}
	pc, err := c.roles.LoadProvider(ctx, *roleCfg.ModelID)
	if err != nil {
		return fmt.Errorf("load provider %d: %w", *roleCfg.ModelID, err)
	}

	eng, err := c.factory.Take(ctx, engine.ProviderSpec{
		ConfigID:  pc.ConfigID,
		Provider:  pc.Provider,
		ModelName: pc.ModelName,
		APIURL:    pc.APIURL,
		APIKey:    pc.APIKey,
	})
	if err != nil {
		return fmt.Errorf("warm up %s: %w", pc.Provider, err)
	}

	if prober, ok := eng.(engine.ToolSupportProber); ok {
		s.SetSupportsToolCalls(prober.ProbeToolSupport(ctx))
	}

	if err := c.devices.UpdateState(ctx, deviceID, types.DeviceStateOnline); err != nil {
		c.logger.Warnf("session %s: online state not recorded: %v", s.ID, err)
	}
	return nil
}

// handleUnboundDevice routes an unbound connection. Virtual web-chat devices
// bind themselves to the owner's default role; everything else goes through
// the captcha flow behind the single-flight gate.
func (c *Coordinator) handleUnboundDevice(ctx context.Context, s *session.Session, d *types.Device) bool {
	if userID, ok := parseVirtualDeviceID(d.DeviceID); ok {
		if c.autoBindVirtualDevice(ctx, s, d, userID) {
			return true
		}
	}

	if !c.gate.TryAcquire(d.DeviceID) {
		c.logger.Debugf("session %s: captcha already in flight for %s", s.ID, d.DeviceID)
		return false
	}

	deviceID := d.DeviceID
	dev := d
	c.runner.Go("captcha", func() error {
		defer time.AfterFunc(c.releaseDelay, func() {
			c.gate.Release(deviceID)
		})
		return c.provision(s, dev)
	})
	return false
}

func (c *Coordinator) autoBindVirtualDevice(ctx context.Context, s *session.Session, d *types.Device, userID int) bool {
	roles, err := c.roles.RolesByUser(ctx, userID)
	if err != nil || len(roles) == 0 {
		c.logger.Infof("session %s: no role for web user %d, falling back to captcha", s.ID, userID)
		return false
	}

	chosen := roles[0]
	for _, r := range roles {
		if r.IsDefault {
			chosen = r
			break
		}
	}

	d.UserID = userID
	d.RoleID = &chosen.RoleID
	d.DeviceName = virtualDeviceName
	d.State = types.DeviceStateOnline
	if err := c.devices.Upsert(ctx, *d); err != nil {
		c.logger.Errorf("session %s: auto-bind persist failed: %v", s.ID, err)
		return false
	}

	if reloaded, err := c.devices.Lookup(ctx, d.DeviceID); err == nil && reloaded != nil {
		reloaded.SessionID = s.ID
		d = reloaded
		s.SetDevice(d)
	}

	c.initializeBoundDevice(ctx, s, d)
	return true
}

// provision speaks either a "configure a role" notice or the verification
// code for this device. Synthesized captcha audio is cached on the code
// record and reused across attempts.
func (c *Coordinator) provision(s *session.Session, d *types.Device) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if d.DeviceName != "" && d.RoleID == nil {
		path, err := c.synth.Synthesize(ctx, noticeRoleUnconfigured)
		if err != nil {
			return fmt.Errorf("synthesize role notice: %w", err)
		}
		return c.notifier.VerificationNotice(s, noticeRoleUnconfigured, path)
	}

	code, err := c.devices.GenerateCode(ctx, d.DeviceID)
	if err != nil {
		return fmt.Errorf("generate verification code: %w", err)
	}

	text := noticeCaptchaPrefix + code.Code
	if code.AudioPath == "" {
		spoken := noticeCaptchaPrefix + " " + spellOut(code.Code)
		path, err := c.synth.Synthesize(ctx, spoken)
		if err != nil {
			return fmt.Errorf("synthesize captcha: %w", err)
		}
		code.AudioPath = path
		code.SessionID = s.ID
		if err := c.devices.UpdateCode(ctx, *code); err != nil {
			c.logger.Warnf("session %s: captcha audio path not recorded: %v", s.ID, err)
		}
	}
	return c.notifier.VerificationNotice(s, text, code.AudioPath)
}

func parseVirtualDeviceID(deviceID string) (int, bool) {
	if !strings.HasPrefix(deviceID, virtualDevicePrefix) {
		return 0, false
	}
	userID, err := strconv.Atoi(strings.TrimPrefix(deviceID, virtualDevicePrefix))
	if err != nil {
		return 0, false
	}
	return userID, true
}

// spellOut spaces the code digits so synthesis reads them one by one.
func spellOut(code string) string {
	runes := strings.Split(code, "")
	return strings.Join(runes, " ")
}
