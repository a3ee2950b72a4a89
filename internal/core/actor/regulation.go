package actor

import (
	"fmt"
	"time"

	"github.com/gridpilot/gridpilot/internal/config"
	"github.com/gridpilot/gridpilot/internal/core/domain"
	"github.com/gridpilot/gridpilot/internal/core/events"
	"github.com/gridpilot/gridpilot/internal/core/port"
	"github.com/gridpilot/gridpilot/internal/core/service"
	"github.com/gridpilot/gridpilot/internal/state"
	"github.com/gridpilot/gridpilot/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// RegulationActor drives the engine: a repeated tick runs one cycle as a
// recovered background task, meter state changes trigger the real power
// recomputation. Ticks arriving while a cycle still runs are dropped, the
// loop is not reentrant.
type RegulationActor struct {
	config    *config.Config
	behavior  actor.Behavior
	stash     *actorutil.Stash
	scheduler *scheduler.TimerScheduler
	cancel    scheduler.CancelFunc

	engine      *service.Engine
	store       port.StateStore
	eventStream *eventstream.EventStream

	cycleRunning bool
	logger       *zap.Logger
}

func NewRegulationActor(config *config.Config, engine *service.Engine, store port.StateStore,
	eventStream *eventstream.EventStream, logger *zap.Logger) *RegulationActor {
	act := &RegulationActor{
		config:      config,
		engine:      engine,
		store:       store,
		eventStream: eventStream,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_REGULATION, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *RegulationActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (s *RegulationActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		s.logger.Debug("regulation@starting started")

		// make the enabled flag editable before the first cycle
		if id := s.config.Regulation.EnabledStateID; id != "" {
			if _, ok := s.store.Read(id); !ok {
				s.store.Write(id, true, true)
			}
		}

		// meter changes re-trigger the real power estimate
		if id := s.config.Regulation.MeterStateID; id != "" {
			self := ctx.Self()
			system := ctx.ActorSystem()
			s.store.Subscribe(id, func(_ string, v port.StateValue) {
				system.Root.Send(self, domain.MeterPowerChanged{GridPower: state.Numeric(v.Val)})
			})
		}

		s.scheduler = scheduler.NewTimerScheduler(ctx)
		interval := time.Duration(s.config.Regulation.IntervalSeconds) * time.Second
		s.cancel = s.scheduler.SendRepeatedly(interval, interval, ctx.Self(), domain.RegulationTick{})

		s.behavior.Become(s.DefaultReceive)
		s.stash.UnstashAll(ctx)
	case *actor.Restarting:
		s.stopTimer()
	default:
		s.logger.Debug("regulation@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		s.stash.Stash(ctx, msg)
	}
}

func (s *RegulationActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Restarting, *actor.Stopping:
		s.stopTimer()
	case domain.ActorHealthRequest:
		s.logger.Debug("regulation@default ActorHealthRequest")
		st := "idle"
		if s.cycleRunning {
			st = "running"
		}
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_REGULATION,
			Healthy: true,
			State:   st,
		})
	case domain.RegulationTick:
		if s.cycleRunning {
			s.logger.Warn("regulation@default tick while cycle running, dropped")
			return
		}
		s.cycleRunning = true
		s.publish(events.RegulationStateUpdateEvents("running"))
		actorutil.NewBackgroundTaskNoError(ctx, func() *domain.RegulationCycleDone {
			s.engine.RunCycle()
			return &domain.RegulationCycleDone{}
		}).Recover(func(err error) domain.RegulationCycleDone {
			return domain.RegulationCycleDone{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
			}
		}).PipeTo(ctx.Self())
	case domain.RegulationCycleDone:
		s.cycleRunning = false
		s.publish(events.RegulationStateUpdateEvents("idle"))
		if msg.HasResponseError() {
			s.logger.Error("regulation@default cycle failed", zap.Error(msg.GetResponseError()))
		}
	case domain.MeterPowerChanged:
		s.engine.UpdateRealPower(msg.GridPower)
	case domain.SetRegulationEnabledRequest:
		if id := s.config.Regulation.EnabledStateID; id != "" {
			s.store.Write(id, msg.Enabled, false)
		}
		s.publish(events.RegulationEnabledUpdateEvents(msg.Enabled))
		actorutil.ForRequest(msg).Respond(ctx, domain.SetRegulationEnabledResponse{})
	}
}

func (s *RegulationActor) publish(evt any) {
	if s.eventStream != nil {
		s.eventStream.Publish(evt)
	}
}

func (s *RegulationActor) stopTimer() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
