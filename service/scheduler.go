package service

import (
	"context"
	"sync"
	"time"
)

// AuditScheduler periodically audits every election of the store and, when
// enabled, repairs the divergent replicas.
type AuditScheduler struct {
	service    *LedgerService
	interval   time.Duration
	autoRepair bool
	reportCh   chan AuditReport
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// NewAuditScheduler creates a scheduler. Reports of the periodic audits are
// published on a buffered channel and dropped when nobody reads them.
func NewAuditScheduler(service *LedgerService, interval time.Duration, autoRepair bool) *AuditScheduler {
	return &AuditScheduler{
		service:    service,
		interval:   interval,
		autoRepair: autoRepair,
		reportCh:   make(chan AuditReport, 16),
		shutdownCh: make(chan struct{}),
	}
}

// Start begins the periodic audits in the background.
func (as *AuditScheduler) Start() {
	as.wg.Add(1)
	go as.worker()
}

// Stop gracefully shuts down the scheduler and waits for the running audit.
func (as *AuditScheduler) Stop() {
	close(as.shutdownCh)
	as.wg.Wait()
}

// Reports returns the channel where the periodic audit reports are sent. It is
// closed once the scheduler is stopped.
func (as *AuditScheduler) Reports() <-chan AuditReport {
	return as.reportCh
}

func (as *AuditScheduler) worker() {
	defer as.wg.Done()
	defer close(as.reportCh)

	ticker := time.NewTicker(as.interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-as.shutdownCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-as.shutdownCh:
			return
		case <-ticker.C:
			as.publish(as.RunOnce(ctx))
		}
	}
}

// RunOnce audits every election once and returns the reports. Failures are
// logged and do not stop the round.
func (as *AuditScheduler) RunOnce(ctx context.Context) []AuditReport {
	logger := as.service.logger

	elections, err := as.service.store.ListElections(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list elections")
		return nil
	}

	reports := make([]AuditReport, 0, len(elections))

	for _, electionID := range elections {
		report, err := as.service.Audit(ctx, electionID)
		if err != nil {
			logger.Error().Err(err).Str("election", electionID).Msg("scheduled audit failed")
			continue
		}

		if as.autoRepair && len(report.Discrepancies) > 0 {
			_, err := as.service.RepairDivergent(ctx, electionID)
			if err != nil {
				logger.Error().Err(err).Str("election", electionID).Msg("automatic repair failed")
			}
		}

		reports = append(reports, report)
	}

	return reports
}

func (as *AuditScheduler) publish(reports []AuditReport) {
	for _, report := range reports {
		select {
		case as.reportCh <- report:
		default:
			as.service.logger.Debug().Str("election", report.ElectionID).Msg("audit report dropped")
		}
	}
}
