package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tsarna/wsrelay/pkg/wsrelay/server"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// StatsSource supplies the counters logged by the stats job.
type StatsSource interface {
	Stats() server.StatsSnapshot
}

// NewStatsReporter returns a cron scheduler (not yet started) that logs a
// stats snapshot on c.StatsSchedule. It returns nil if no schedule is set.
func (c *Config) NewStatsReporter(source StatsSource, logger *zap.Logger) (*cron.Cron, error) {
	if c.StatsSchedule == "" {
		return nil, nil
	}

	tz := c.StatsTimezone
	if tz == "" {
		tz = "Local"
	}
	location, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid stats timezone %q: %w", tz, err)
	}

	scheduler := cron.New(
		cron.WithLogger(NewZapCronLogger(logger)),
		cron.WithParser(cronParser),
		cron.WithLocation(location),
	)

	job := &statsJob{source: source, logger: logger}
	if _, err := scheduler.AddJob(c.StatsSchedule, job); err != nil {
		return nil, fmt.Errorf("invalid stats schedule %q: %w", c.StatsSchedule, err)
	}

	return scheduler, nil
}

type statsJob struct {
	source StatsSource
	logger *zap.Logger
}

func (j *statsJob) Run() {
	s := j.source.Stats()
	j.logger.Info("Relay stats",
		zap.Int("active_connections", s.ActiveConnections),
		zap.Int64("accepted", s.Accepted),
		zap.Int64("handshake_failures", s.HandshakeFailures),
		zap.Int64("messages_received", s.MessagesReceived),
		zap.Int64("frame_errors", s.FrameErrors),
		zap.Int64("broadcasts", s.Broadcasts),
		zap.Int64("deliveries", s.Deliveries),
		zap.Int64("delivery_failures", s.DeliveryFailures),
	)
}

// ZapCronLogger adapts a zap.Logger to implement the cron.Logger interface
type ZapCronLogger struct {
	logger *zap.Logger
}

// NewZapCronLogger creates a new ZapCronLogger that wraps the given zap.Logger
func NewZapCronLogger(logger *zap.Logger) *ZapCronLogger {
	return &ZapCronLogger{logger: logger}
}

// Info logs cron's routine messages at debug level
func (z *ZapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	z.logger.Debug(msg, fields(keysAndValues)...)
}

// Error logs error conditions using zap's Error level
func (z *ZapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	z.logger.Error(msg, append(fields(keysAndValues), zap.Error(err))...)
}

func fields(keysAndValues []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			out = append(out, zap.Any(key, keysAndValues[i+1]))
		}
	}
	return out
}
