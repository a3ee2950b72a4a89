package bridge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gridpilot/gridpilot/internal/config"
	"github.com/gridpilot/gridpilot/internal/core/domain"
	"github.com/gridpilot/gridpilot/internal/core/port"
	"github.com/gridpilot/gridpilot/internal/state"
	"github.com/gridpilot/gridpilot/pkg/vendorwire"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

// ErrNotConnected is returned for device operations while the session is
// down. Startup failures (auth, transport exhaustion) wrap it.
var ErrNotConnected = errors.New("bridge: not connected")

type vendorDevice = domain.VendorDevice

const (
	// watchdogInterval is the reconnect watchdog tick.
	watchdogInterval = 60 * time.Second
	// lastTopicThrottle limits how often the "last received topic" display
	// state is rewritten during bursty telemetry.
	lastTopicThrottle = 5 * time.Second
)

// Bridge is the stateful client of the vendor cloud: it authenticates,
// negotiates a transport, keeps the publish/subscribe session alive and
// translates between binary/JSON frames and host states.
type Bridge struct {
	cfg    config.BridgeConfig
	helper *state.Helper
	store  port.StateStore
	logger *zap.Logger

	mu        sync.Mutex
	creds     *Credentials
	client    mqtt.Client
	connected bool
	stopping  bool
	lastSeen  map[string]time.Time
	lastTopic time.Time

	dedupe *deduper
	sched  quartz.Scheduler
	cancel context.CancelFunc
	now    func() time.Time
}

func New(cfg config.BridgeConfig, helper *state.Helper, logger *zap.Logger) *Bridge {
	return &Bridge{
		cfg:      cfg,
		helper:   helper,
		store:    helper.Store(),
		logger:   logger.With(zap.String("component", "bridge")),
		lastSeen: make(map[string]time.Time),
		dedupe:   newDeduper(),
		now:      time.Now,
	}
}

// Start authenticates, negotiates a transport, opens the session and arms
// the reconnect watchdog. Any failure surfaces as "not connected".
func (b *Bridge) Start() error {
	if err := b.connect(); err != nil {
		return fmt.Errorf("%w: %s", ErrNotConnected, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.sched = quartz.NewStdScheduler()
	b.sched.Start(ctx)

	watchdog := job.NewFunctionJob(func(_ context.Context) (bool, error) {
		b.watchdogTick()
		return true, nil
	})
	detail := quartz.NewJobDetail(watchdog, quartz.NewJobKey("bridge-watchdog"))
	if err := b.sched.ScheduleJob(detail, quartz.NewSimpleTrigger(watchdogInterval)); err != nil {
		return err
	}
	return nil
}

// Stop synchronously stops the watchdog, ends the session gracefully and
// only then returns.
func (b *Bridge) Stop() {
	b.mu.Lock()
	b.stopping = true
	b.mu.Unlock()

	if b.sched != nil {
		b.sched.Stop()
		b.sched.Wait(context.Background())
	}
	if b.cancel != nil {
		b.cancel()
	}
	b.closeSession()
	b.logger.Info("bridge stopped")
}

func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *Bridge) UserID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.creds == nil {
		return ""
	}
	return b.creds.UserID
}

// connect runs one full session bring-up: auth, transport negotiation,
// subscriptions, heartbeats and placeholder states.
func (b *Bridge) connect() error {
	auth := newAuthClient(b.cfg.APIBase, b.logger)
	creds, err := auth.Authenticate(b.cfg.Email, b.cfg.Password)
	if err != nil {
		return err
	}

	clientID := newClientID(creds.UserID)
	probeTimeout := time.Duration(b.cfg.ProbeTimeoutSeconds) * time.Second
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	cand, err := negotiateTransport(creds, clientID, probeTimeout, b.logger)
	if err != nil {
		return err
	}

	opts := clientOptions(creds, *cand, clientID)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		b.logger.Info("session connected", zap.String("broker", cand.broker))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.logger.Warn("session closed unexpectedly", zap.Error(err))
		b.mu.Lock()
		b.connected = false
		b.mu.Unlock()
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if ok := token.WaitTimeout(probeTimeout * 2); !ok || token.Error() != nil {
		if token.Error() != nil {
			return token.Error()
		}
		return errors.New("session connect timeout")
	}

	b.mu.Lock()
	b.creds = creds
	b.client = client
	b.connected = true
	now := b.now()
	for _, dev := range b.cfg.Devices {
		b.lastSeen[dev.Serial] = now
	}
	b.mu.Unlock()

	if err := b.openSession(); err != nil {
		client.Disconnect(250)
		b.mu.Lock()
		b.connected = false
		b.mu.Unlock()
		return err
	}
	return nil
}

// openSession subscribes the per-device topics, sends the heartbeat
// probes and creates the placeholder writeable states.
func (b *Bridge) openSession() error {
	for _, dev := range b.cfg.Devices {
		dev := dev
		topics := []string{
			b.getTopic(dev.Serial),
			b.setTopic(dev.Serial),
		}
		if dev.Subscribe {
			topics = append(topics, fmt.Sprintf("/app/device/property/%s", dev.Serial))
		}
		for _, topic := range topics {
			token := b.client.Subscribe(topic, 1, func(_ mqtt.Client, m mqtt.Message) {
				b.handleMessage(m.Topic(), m.Payload())
			})
			if ok := token.WaitTimeout(5 * time.Second); !ok || token.Error() != nil {
				return fmt.Errorf("subscribe %s failed", topic)
			}
		}

		b.createPlaceholderStates(dev)

		if dev.Powered {
			b.sendHeartbeats(dev)
		}
	}

	b.listenForWrites()
	return nil
}

// sendHeartbeats publishes three "get" requests plus one "set" ping; the
// vendor firmware only starts streaming telemetry after being poked.
func (b *Bridge) sendHeartbeats(dev vendorDevice) {
	get := []byte(`{"version":"1.1","moduleType":0,"operateType":"latestQuotas","params":{}}`)
	for i := 0; i < 3; i++ {
		b.publish(b.getTopic(dev.Serial), get)
	}
	ping := []byte(`{"version":"1.1","moduleType":0,"operateType":"ping","params":{}}`)
	b.publish(b.setTopic(dev.Serial), ping)
}

// createPlaceholderStates registers a writeable host state per writeable
// catalog entry so user intents have a target before the first telemetry.
func (b *Bridge) createPlaceholderStates(dev vendorDevice) {
	devType := vendorwire.DeviceType(dev.Type)
	var names []string
	if vendorwire.IsBinaryFamily(devType) {
		for _, e := range vendorwire.WriteableEntries(devType) {
			names = append(names, e.ValueName)
		}
	} else {
		for _, e := range vendorwire.WriteableJSONEntries(devType) {
			names = append(names, e.ValueName)
		}
	}
	for _, name := range names {
		id := b.commandStateID(dev.Serial, name)
		if _, ok := b.store.Read(id); !ok {
			b.store.Write(id, float64(0), true)
		}
	}
}

// listenForWrites forwards non-ack writes of writeable states as outgoing
// messages, binary or JSON per device family.
func (b *Bridge) listenForWrites() {
	for _, dev := range b.cfg.Devices {
		dev := dev
		devType := vendorwire.DeviceType(dev.Type)
		if vendorwire.IsBinaryFamily(devType) {
			for _, e := range vendorwire.WriteableEntries(devType) {
				entry := e
				b.subscribeWrite(dev, entry.ValueName, func(v float64) error {
					return b.forwardWrite(dev, entry, v)
				})
			}
			continue
		}
		for _, e := range vendorwire.WriteableJSONEntries(devType) {
			entry := e
			b.subscribeWrite(dev, entry.ValueName, func(v float64) error {
				return b.forwardJSONWrite(dev, entry, v)
			})
		}
	}
}

func (b *Bridge) subscribeWrite(dev vendorDevice, valueName string, forward func(float64) error) {
	id := b.commandStateID(dev.Serial, valueName)
	b.store.Subscribe(id, func(_ string, v port.StateValue) {
		if v.Ack {
			// acknowledgement echo, not a user intent
			return
		}
		if err := forward(state.Numeric(v.Val)); err != nil {
			b.logger.Warn("forward write failed",
				zap.String("serial", dev.Serial),
				zap.String("value", valueName), zap.Error(err))
		}
	})
}

func (b *Bridge) closeSession() {
	b.mu.Lock()
	client := b.client
	b.client = nil
	b.connected = false
	b.mu.Unlock()
	if client != nil {
		client.Disconnect(500)
	}
}

// watchdogTick reconnects the whole session when any powered device has
// been silent longer than the configured window.
func (b *Bridge) watchdogTick() {
	window := time.Duration(b.cfg.SilenceWindowMinutes) * time.Minute
	if window <= 0 {
		window = 5 * time.Minute
	}

	b.mu.Lock()
	if b.stopping {
		b.mu.Unlock()
		return
	}
	connected := b.connected
	var silent string
	now := b.now()
	for _, dev := range b.cfg.Devices {
		if !dev.Powered {
			continue
		}
		if now.Sub(b.lastSeen[dev.Serial]) > window {
			silent = dev.Serial
			break
		}
	}
	b.mu.Unlock()

	if connected && silent == "" {
		return
	}
	if silent != "" {
		b.logger.Warn("device silent beyond window, reconnecting session",
			zap.String("serial", silent))
	} else {
		b.logger.Warn("session down, reconnecting")
	}
	b.closeSession()
	if err := b.connect(); err != nil {
		b.logger.Error("reconnect failed", zap.Error(err))
	}
}

func (b *Bridge) publish(topic string, payload []byte) {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		return
	}
	token := client.Publish(topic, 1, false, payload)
	go func() {
		if ok := token.WaitTimeout(5 * time.Second); !ok || token.Error() != nil {
			b.logger.Warn("publish failed", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}()
}

func (b *Bridge) getTopic(serial string) string {
	return fmt.Sprintf("/app/%s/%s/thing/property/get", b.UserID(), serial)
}

func (b *Bridge) setTopic(serial string) string {
	return fmt.Sprintf("/app/%s/%s/thing/property/set", b.UserID(), serial)
}

func (b *Bridge) commandStateID(serial, valueName string) string {
	return fmt.Sprintf("vendor.%s.cmd.%s", serial, valueName)
}

func (b *Bridge) fieldStateID(serial string, tmpl vendorwire.Template, field string) string {
	return fmt.Sprintf("vendor.%s.%s.%s", serial, tmpl, field)
}

func (b *Bridge) deviceBySerial(serial string) (vendorDevice, bool) {
	for _, dev := range b.cfg.Devices {
		if dev.Serial == serial {
			return dev, true
		}
	}
	return vendorDevice{}, false
}

// ReadAuxiliaryField implements port.VendorGateway. Values are raw
// protocol units; the regulation engine owns unit normalization.
func (b *Bridge) ReadAuxiliaryField(serial, field string) (float64, bool) {
	v, ok := b.store.Read(b.fieldStateID(serial, vendorwire.TemplateInverterHeartbeat, field))
	if !ok {
		return 0, false
	}
	return state.Numeric(v.Val), true
}

// SetPoint implements port.VendorGateway: encodes the raw deciwatt unit
// for power-stream devices, publishes the frame and mirrors the raw value
// into the display state.
func (b *Bridge) SetPoint(serial string, watts float64) error {
	if !b.Connected() {
		return ErrNotConnected
	}
	dev, ok := b.deviceBySerial(serial)
	if !ok {
		return fmt.Errorf("bridge: unknown device %s", serial)
	}
	devType := vendorwire.DeviceType(dev.Type)
	if devType != vendorwire.DeviceTypePS {
		return fmt.Errorf("bridge: device %s does not accept set-points", serial)
	}
	raw := int32(math.Round(watts * 10))
	entry, ok := vendorwire.FindByValueName("permanentWatts", devType)
	if !ok {
		return errors.New("bridge: permanentWatts not in catalog")
	}
	b.publish(b.setTopic(serial), b.buildFrame(dev, entry, raw))
	b.store.Write(fmt.Sprintf("vendor.%s.setpoint", serial), float64(raw), true)
	return nil
}

// SetPriority implements port.VendorGateway.
func (b *Bridge) SetPriority(serial string, on bool) error {
	if !b.Connected() {
		return ErrNotConnected
	}
	dev, ok := b.deviceBySerial(serial)
	if !ok {
		return fmt.Errorf("bridge: unknown device %s", serial)
	}
	entry, ok := vendorwire.FindByValueName("supplyPriority", vendorwire.DeviceType(dev.Type))
	if !ok {
		return fmt.Errorf("bridge: device %s has no priority mode", serial)
	}
	var value int32
	if on {
		value = 1
	}
	b.publish(b.setTopic(serial), b.buildFrame(dev, entry, value))
	return nil
}

// ensure interface compliance
var _ port.VendorGateway = (*Bridge)(nil)
