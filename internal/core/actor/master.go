package actor

import (
	"fmt"
	"time"

	adactor "github.com/gridpilot/gridpilot/internal/adapter/actor"
	"github.com/gridpilot/gridpilot/internal/config"
	"github.com/gridpilot/gridpilot/internal/core/domain"
	"github.com/gridpilot/gridpilot/internal/core/port"
	"github.com/gridpilot/gridpilot/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type BridgeActorProvider func(*eventstream.EventStream) *adactor.BridgeActor

type MeterActorProvider func() *adactor.MeterActor

type RegulationActorProvider func(*eventstream.EventStream) *RegulationActor

// MasterActor spawns and supervises the bridge, regulation and meter
// children and aggregates their health checks. Sensor update events from
// the children are mirrored into the state store.
type MasterActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *actorutil.Stash

	currentHealthCheck healthCheckResult
	eventStream        *eventstream.EventStream
	store              port.StateStore

	bridgeActor     *actor.PID
	regulationActor *actor.PID
	meterActor      *actor.PID

	bridgeProvider     BridgeActorProvider
	meterProvider      MeterActorProvider
	regulationProvider RegulationActorProvider

	logger *zap.Logger
}

type healthCheckResult struct {
	expected  int
	received  int
	unhealthy int
	respondTo *actor.PID
}

func NewMasterActor(config config.Config, store port.StateStore,
	bridgeProvider BridgeActorProvider, regulationProvider RegulationActorProvider,
	meterProvider MeterActorProvider, logger *zap.Logger) *MasterActor {

	act := &MasterActor{
		config:             config,
		behavior:           actor.NewBehavior(),
		stash:              &actorutil.Stash{},
		logger:             actorutil.ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:        &eventstream.EventStream{},
		store:              store,
		bridgeProvider:     bridgeProvider,
		meterProvider:      meterProvider,
		regulationProvider: regulationProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.subscribeSensorEvents()

		if state.config.Bridge.Enabled {
			pid, err := state.startBridgeActor(ctx)
			if err != nil {
				panic(err)
			}
			state.bridgeActor = pid
		}

		pid, err := state.startRegulationActor(ctx)
		if err != nil {
			panic(err)
		}
		state.regulationActor = pid

		if state.config.Meter.Enabled {
			pid, err := state.startMeterActor(ctx)
			if err != nil {
				panic(err)
			}
			state.meterActor = pid
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck = healthCheckResult{respondTo: ctx.Sender()}
		for _, child := range state.children() {
			state.currentHealthCheck.expected++
			actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(child, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
				return domain.ActorHealthResponse{Healthy: false}
			})
		}
		if state.currentHealthCheck.expected == 0 {
			state.currentHealthCheck.respond(ctx)
			return
		}
		ctx.SetReceiveTimeout(1 * time.Second)
		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case domain.SetRegulationEnabledRequest:
		if msg.ReplyToRef == nil {
			msg.ReplyToRef = (*domain.ActorRef)(ctx.Sender())
		}
		ctx.Send(state.regulationActor, msg)
	case domain.BridgeStateRequest:
		if state.bridgeActor != nil {
			if msg.ReplyToRef == nil {
				msg.ReplyToRef = (*domain.ActorRef)(ctx.Sender())
			}
			ctx.Send(state.bridgeActor, msg)
			return
		}
		actorutil.ForRequest(msg).Respond(ctx, domain.BridgeStateResponse{})
	default:
		state.logger.Debug("master@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// a silent child counts as unhealthy
		state.currentHealthCheck.unhealthy++
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse",
			zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.received++
		if !msg.Healthy {
			state.currentHealthCheck.unhealthy++
		}
		if state.currentHealthCheck.received >= state.currentHealthCheck.expected {
			state.currentHealthCheck.respond(ctx)
			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) children() []*actor.PID {
	var pids []*actor.PID
	if state.bridgeActor != nil {
		pids = append(pids, state.bridgeActor)
	}
	if state.regulationActor != nil {
		pids = append(pids, state.regulationActor)
	}
	if state.meterActor != nil {
		pids = append(pids, state.meterActor)
	}
	return pids
}

// subscribeSensorEvents mirrors child sensor update events into the state
// store under the "gridpilot." prefix.
func (state *MasterActor) subscribeSensorEvents() {
	state.eventStream.Subscribe(func(evt any) {
		e, ok := evt.(domain.SensorUpdateEvent)
		if !ok {
			return
		}
		switch v := evt.(type) {
		case domain.FloatSensorUpdateEvent:
			state.store.Write("gridpilot."+e.SensorId(), v.Value, true)
		case domain.BinarySensorUpdateEvent:
			state.store.Write("gridpilot."+e.SensorId(), v.Value, true)
		case domain.SwitchSensorUpdateEvent:
			state.store.Write("gridpilot."+e.SensorId(), v.Value, true)
		case domain.TextSensorUpdateEvent:
			state.store.Write("gridpilot."+e.SensorId(), v.Value, true)
		case domain.BridgeStateUpdateEvent:
			state.store.Write("gridpilot."+e.SensorId(), v.Value, true)
		case domain.InputNumberSensorUpdateEvent:
			state.store.Write("gridpilot."+e.SensorId(), v.Value, true)
		}
	})
}

func (state *MasterActor) startBridgeActor(ctx actor.Context) (*actor.PID, error) {
	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	props := actor.PropsFromProducer(func() actor.Actor {
		return state.bridgeProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(props, domain.ACTOR_ID_BRIDGE)
}

func (state *MasterActor) startRegulationActor(ctx actor.Context) (*actor.PID, error) {
	decider := func(reason interface{}) actor.Directive {
		state.logger.Error("regulation child failure", zap.Any("reason", reason))
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	props := actor.PropsFromProducer(func() actor.Actor {
		return state.regulationProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(props, domain.ACTOR_ID_REGULATION)
}

func (state *MasterActor) startMeterActor(ctx actor.Context) (*actor.PID, error) {
	decider := func(reason interface{}) actor.Directive {
		state.logger.Error("meter child failure", zap.Any("reason", reason))
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	props := actor.PropsFromProducer(func() actor.Actor {
		return state.meterProvider()
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(props, domain.ACTOR_ID_METER)
}

func (hc *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: hc.unhealthy == 0,
	}
	if hc.respondTo != nil {
		ctx.Send(hc.respondTo, resp)
	}
}
