package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/cardbook/internal/events"
	"github.com/mmeshcher/cardbook/internal/metrics"
	"github.com/mmeshcher/cardbook/internal/model"
	"github.com/mmeshcher/cardbook/internal/repository"
)

const opRenewal = "renewal"

// RenewalReport описывает результат прохода продления.
type RenewalReport struct {
	// Checked содержит число просмотренных кредитов.
	Checked int `json:"checked"`
	// Renewed содержит число кредитов, переведённых в новый период.
	Renewed int `json:"renewed"`
	// Skipped содержит число кредитов, которым требовалось продление,
	// но даты нового периода вычислить не удалось.
	Skipped int `json:"skipped"`
}

// Activation описывает завершение прохода, запущенного через Activate.
type Activation struct {
	Report RenewalReport
	Err    error
	// Coalesced равен true, если результат одного прохода получили несколько вызовов.
	Coalesced bool
}

// ProcessAutomaticRenewals выполняет один проход продления по всем кредитам.
// Все изменённые кредиты сохраняются одной транзакцией, уведомления отправляются
// только после успешной записи. Ошибка хранилища прерывает проход целиком.
func (s *Service) ProcessAutomaticRenewals(ctx context.Context) (RenewalReport, error) {
	started := time.Now()
	defer func() {
		metrics.RenewalDuration.Observe(time.Since(started).Seconds())
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.bus.Emit(ctx, events.Loading{Operation: opRenewal, Active: true})
	defer s.bus.Emit(context.WithoutCancel(ctx), events.Loading{Operation: opRenewal, Active: false})

	credits, err := s.store.ListCredits(ctx, repository.CreditFilter{})
	if err != nil {
		metrics.RenewalPasses.WithLabelValues("error").Inc()
		s.fail(ctx, opRenewal, err)
		return RenewalReport{}, err
	}

	report := RenewalReport{Checked: len(credits)}
	var changed []model.Credit
	for _, c := range credits {
		if !s.engine.ShouldRenew(c) {
			continue
		}
		next, ok := s.engine.Renew(c)
		if !ok {
			report.Skipped++
			s.logger.Warn("credit renewal skipped", zap.String("creditID", c.ID.String()))
			continue
		}
		changed = append(changed, next)
	}
	report.Renewed = len(changed)
	metrics.CreditsSkipped.Add(float64(report.Skipped))

	if len(changed) == 0 {
		metrics.RenewalPasses.WithLabelValues("noop").Inc()
		return report, nil
	}

	tx := events.NewTransactionalBus(s.bus)
	tx.Publish(events.CreditsChanged{CreditIDs: creditIDs(changed), Reason: "renewed"})
	tx.Publish(events.CardsChanged{CardIDs: cardIDs(changed), Reason: "renewed"})

	if err := s.store.SaveCredits(ctx, changed); err != nil {
		tx.Discard()
		metrics.RenewalPasses.WithLabelValues("error").Inc()
		s.fail(ctx, opRenewal, err)
		return RenewalReport{Checked: report.Checked}, err
	}
	tx.Flush(ctx)

	metrics.RenewalPasses.WithLabelValues("renewed").Inc()
	metrics.CreditsRenewed.Add(float64(report.Renewed))
	s.logger.Info("renewal pass completed",
		zap.Int("checked", report.Checked),
		zap.Int("renewed", report.Renewed),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

// Activate запускает проход продления в фоне. Вызовы, пришедшие во время
// идущего прохода, присоединяются к нему. Проход не зависит от отмены ctx.
// Результат доставляется в возвращаемый канал, читать его не обязательно.
func (s *Service) Activate(ctx context.Context) <-chan Activation {
	done := make(chan Activation, 1)
	passCtx := context.WithoutCancel(ctx)

	s.background.Add(1)
	go func() {
		defer s.background.Done()

		v, err, shared := s.activation.Do(opRenewal, func() (any, error) {
			return s.ProcessAutomaticRenewals(passCtx)
		})
		if shared {
			metrics.ActivationsCoalesced.Inc()
		}

		report, _ := v.(RenewalReport)
		done <- Activation{Report: report, Err: err, Coalesced: shared}
	}()
	return done
}

func cardIDs(credits []model.Credit) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(credits))
	ids := make([]uuid.UUID, 0, len(credits))
	for _, c := range credits {
		if _, ok := seen[c.CardID]; ok {
			continue
		}
		seen[c.CardID] = struct{}{}
		ids = append(ids, c.CardID)
	}
	return ids
}
