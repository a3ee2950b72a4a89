package actor

import (
	"fmt"
	"time"

	"github.com/gridpilot/gridpilot/internal/config"
	"github.com/gridpilot/gridpilot/internal/core/domain"
	"github.com/gridpilot/gridpilot/internal/core/port"
	"github.com/gridpilot/gridpilot/internal/meter"
	"github.com/gridpilot/gridpilot/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// MeterActor polls the built-in Modbus smart meter and writes the grid
// power into the state store, where the regulation engine (and its
// subscribers) pick it up like any host-provided meter state.
type MeterActor struct {
	config    *config.Config
	behavior  actor.Behavior
	stash     *actorutil.Stash
	scheduler *scheduler.TimerScheduler
	cancel    scheduler.CancelFunc

	reader *meter.GridMeter
	store  port.StateStore
	logger *zap.Logger
}

type meterPollTick struct{}

type meterPollResult struct {
	domain.ActorResponseMixIn
	power float64
}

func NewMeterActor(config *config.Config, reader *meter.GridMeter, store port.StateStore, logger *zap.Logger) *MeterActor {
	act := &MeterActor{
		config:   config,
		reader:   reader,
		store:    store,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_METER, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MeterActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MeterActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("meter@starting started")
		if err := state.reader.Open(); err != nil {
			panic(err)
		}
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		interval := time.Duration(state.config.Meter.PollIntervalMillis) * time.Millisecond
		state.cancel = state.scheduler.SendRepeatedly(interval, interval, ctx.Self(), meterPollTick{})
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("meter@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MeterActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Restarting, *actor.Stopping:
		state.stop()
	case domain.ActorHealthRequest:
		state.logger.Debug("meter@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_METER,
			Healthy: true,
			State:   "polling",
		})
	case meterPollTick:
		actorutil.NewBackgroundTask(ctx, func() (*meterPollResult, error) {
			power, err := state.reader.ReadPowerWatt()
			if err != nil {
				return nil, err
			}
			return &meterPollResult{power: power}, nil
		}).WithTimeout(2 * time.Second).Recover(func(err error) meterPollResult {
			return meterPollResult{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
			}
		}).PipeTo(ctx.Self())
	case meterPollResult:
		if msg.HasResponseError() {
			state.logger.Warn("meter@default poll failed", zap.Error(msg.GetResponseError()))
			return
		}
		if state.config.Regulation.MeterStateID != "" {
			state.store.Write(state.config.Regulation.MeterStateID, msg.power, true)
		}
	}
}

func (state *MeterActor) stop() {
	if state.cancel != nil {
		state.cancel()
		state.cancel = nil
	}
	if err := state.reader.Close(); err != nil {
		state.logger.Warn("meter close failed", zap.Error(err))
	}
}
