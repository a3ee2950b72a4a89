package actor

import (
	"fmt"

	"github.com/gridpilot/gridpilot/internal/bridge"
	"github.com/gridpilot/gridpilot/internal/config"
	"github.com/gridpilot/gridpilot/internal/core/domain"
	"github.com/gridpilot/gridpilot/internal/core/events"
	"github.com/gridpilot/gridpilot/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

// BridgeActor owns the vendor cloud bridge lifecycle. Startup failures
// panic to the supervisor, which restarts the whole bridge with
// exponential backoff.
type BridgeActor struct {
	config      *config.Config
	behavior    actor.Behavior
	stash       *actorutil.Stash
	bridge      *bridge.Bridge
	eventStream *eventstream.EventStream
	logger      *zap.Logger
}

type bridgeStarted struct{}

type bridgeStartFailed struct {
	err error
}

func NewBridgeActor(config *config.Config, br *bridge.Bridge, eventStream *eventstream.EventStream, logger *zap.Logger) *BridgeActor {
	act := &BridgeActor{
		config:      config,
		bridge:      br,
		eventStream: eventStream,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_BRIDGE, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *BridgeActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *BridgeActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("bridge@starting started")
		self := ctx.Self()
		system := ctx.ActorSystem()
		go func() {
			if err := state.bridge.Start(); err != nil {
				system.Root.Send(self, bridgeStartFailed{err: err})
				return
			}
			system.Root.Send(self, bridgeStarted{})
		}()
	case bridgeStarted:
		state.logger.Info("bridge@starting connected")
		state.publishState(true)
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case bridgeStartFailed:
		// let the supervisor decide
		state.logger.Error("bridge@starting failed", zap.Error(msg.err))
		panic(msg.err)
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("bridge@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *BridgeActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Restarting, *actor.Stopping:
		state.stop()
	case domain.ActorHealthRequest:
		state.logger.Debug("bridge@default ActorHealthRequest")
		healthy := state.bridge.Connected()
		st := "connected"
		if !healthy {
			st = "disconnected"
		}
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_BRIDGE,
			Healthy: healthy,
			State:   st,
		})
	case domain.BridgeStateRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.BridgeStateResponse{
			Connected: state.bridge.Connected(),
			UserID:    state.bridge.UserID(),
		})
	}
}

func (state *BridgeActor) publishState(connected bool) {
	if state.eventStream == nil {
		return
	}
	for _, evt := range events.BridgeStateUpdateEvents(connected) {
		state.eventStream.Publish(evt)
	}
}

func (state *BridgeActor) stop() {
	state.publishState(false)
	state.bridge.Stop()
}
