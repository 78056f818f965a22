package tasks

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/nzbwatch/nzbwatch/internal/downloader"
	"github.com/nzbwatch/nzbwatch/internal/health"
	"github.com/nzbwatch/nzbwatch/internal/scheduler"
)

const (
	// ClientHealthTaskID identifies the connectivity check in the scheduler.
	ClientHealthTaskID = "download-client-health"

	defaultClientCheckInterval = time.Hour
	clientTestTimeout          = 30 * time.Second
)

// HealthUpdater is the subset of the health service the task updates.
type HealthUpdater interface {
	SetError(category health.HealthCategory, id, message string)
	ClearStatus(category health.HealthCategory, id string)
}

// ClientHealthTask tests connectivity to the download manager.
type ClientHealthTask struct {
	client   downloader.StatusClient
	clientID string
	health   HealthUpdater
	logger   *zerolog.Logger
}

// NewClientHealthTask creates a new download client health check task.
func NewClientHealthTask(client downloader.StatusClient, clientID string, healthSvc HealthUpdater, logger *zerolog.Logger) *ClientHealthTask {
	subLogger := logger.With().Str("task", ClientHealthTaskID).Logger()
	return &ClientHealthTask{
		client:   client,
		clientID: clientID,
		health:   healthSvc,
		logger:   &subLogger,
	}
}

// Run executes the download client health check.
func (t *ClientHealthTask) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, clientTestTimeout)
	defer cancel()

	if err := t.client.Test(ctx); err != nil {
		t.health.SetError(health.CategoryDownloadClients, t.clientID, err.Error())
		t.logger.Warn().Err(err).Str("client", t.clientID).Msg("Download client health check failed")
		return nil
	}

	t.health.ClearStatus(health.CategoryDownloadClients, t.clientID)
	t.logger.Debug().Str("client", t.clientID).Msg("Download client health check passed")
	return nil
}

// RegisterClientHealthTask registers the download client health check task with the scheduler.
func RegisterClientHealthTask(
	sched *scheduler.Scheduler,
	client downloader.StatusClient,
	clientID string,
	healthSvc HealthUpdater,
	interval time.Duration,
	logger *zerolog.Logger,
) error {
	task := NewClientHealthTask(client, clientID, healthSvc, logger)

	if interval <= 0 {
		interval = defaultClientCheckInterval
	}

	return sched.RegisterTask(&scheduler.TaskConfig{
		ID:          ClientHealthTaskID,
		Name:        "Download Client Health Check",
		Description: "Tests connectivity to the download manager",
		Cron:        scheduler.EveryCron(interval),
		RunOnStart:  true,
		Func:        task.Run,
	})
}
