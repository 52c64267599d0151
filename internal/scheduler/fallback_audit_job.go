package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/shinyyama/chat-ledger-backend/internal/logger"
	"github.com/shinyyama/chat-ledger-backend/internal/repository"
	"github.com/shinyyama/chat-ledger-backend/internal/service"
	"github.com/sirupsen/logrus"
)

// FallbackAuditScheduler periodically logs balances held only in the fallback
// cache and how they differ from the durable rows, so operators can reconcile
// them after an outage.
type FallbackAuditScheduler struct {
	cron     *cron.Cron
	spec     string
	cache    *service.FallbackCache
	accounts repository.AccountRepository
}

type AuditReport struct {
	Entries     int
	Drifted     int
	Unreachable int
}

func NewFallbackAuditScheduler(cache *service.FallbackCache, accounts repository.AccountRepository, spec string) *FallbackAuditScheduler {
	if spec == "" {
		spec = "@every 5m"
	}
	return &FallbackAuditScheduler{
		cron:     cron.New(),
		spec:     spec,
		cache:    cache,
		accounts: accounts,
	}
}

func (s *FallbackAuditScheduler) Start() error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.RunOnce(context.Background())
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	logger.Infof("fallback audit scheduler started (%s)", s.spec)
	return nil
}

func (s *FallbackAuditScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("fallback audit scheduler stopped")
}

func (s *FallbackAuditScheduler) RunOnce(ctx context.Context) AuditReport {
	records := s.cache.Snapshot()
	report := AuditReport{Entries: len(records)}
	if len(records) == 0 {
		return report
	}
	for _, r := range records {
		fields := logrus.Fields{
			"wallet":           r.Wallet,
			"fallback_balance": r.Balance,
			"fallback_points":  r.Points,
			"fallback_spent":   r.TotalTokensSpent,
			"fallback_updated": r.UpdatedAt,
		}
		acc, err := s.accounts.Get(ctx, r.Wallet)
		if err != nil {
			report.Unreachable++
			logger.WithFields(fields).WithError(err).Warn("fallback entry, store unreachable")
			continue
		}
		if acc == nil {
			report.Drifted++
			logger.WithFields(fields).Warn("fallback entry without store row")
			continue
		}
		if acc.Balance.Int64() != r.Balance || acc.TotalTokensSpent.Int64() != r.TotalTokensSpent {
			report.Drifted++
			fields["store_balance"] = acc.Balance.Int64()
			fields["store_spent"] = acc.TotalTokensSpent.Int64()
			logger.WithFields(fields).Warn("fallback entry differs from store")
		}
	}
	logger.WithFields(logrus.Fields{
		"entries":     report.Entries,
		"drifted":     report.Drifted,
		"unreachable": report.Unreachable,
	}).Info("fallback audit completed")
	return report
}
