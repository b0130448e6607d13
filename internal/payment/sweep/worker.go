package sweep

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/coursepay/internal/clock"
	"github.com/smallbiznis/coursepay/internal/config"
	paymentdomain "github.com/smallbiznis/coursepay/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Holder     *config.ReconcileConfigHolder
	Repo       paymentdomain.Repository
	PaymentSvc paymentdomain.Service
	Gateway    paymentdomain.GatewayClient
}

// Worker periodically re-checks payments stuck in initiated against
// the gateway. A capture the platform never heard about (lost webhook,
// abandoned client tab) is replayed through the same state machine as
// the live channels.
type Worker struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	holder     *config.ReconcileConfigHolder
	repo       paymentdomain.Repository
	paymentSvc paymentdomain.Service
	gateway    paymentdomain.GatewayClient
}

func NewWorker(p Params) *Worker {
	return &Worker{
		db:         p.DB,
		log:        p.Log.Named("payment.sweep"),
		clock:      p.Clock,
		holder:     p.Holder,
		repo:       p.Repo,
		paymentSvc: p.PaymentSvc,
		gateway:    p.Gateway,
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	for {
		cfg := w.holder.Get()

		if _, err := w.RunOnce(ctx); err != nil {
			w.log.Warn("reconciliation sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(cfg.Interval):
		}
	}
}

// RunOnce sweeps one batch of stale initiated payments and returns
// how many it transitioned.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	cfg := w.holder.Get()
	cutoff := w.clock.Now().UTC().Add(-cfg.StaleInitiated)

	if backlog, err := w.repo.CountUnprocessedWebhookEvents(ctx, w.db, cutoff); err != nil {
		w.log.Warn("unprocessed event count failed", zap.Error(err))
	} else if backlog > 0 {
		// Events stuck past the stale cutoff need an operator; the
		// sweep never re-drives webhook processing itself.
		w.log.Warn("unprocessed webhook events pending", zap.Int64("count", backlog))
	}

	stale, err := w.repo.ListStaleInitiated(ctx, w.db, cutoff, cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	reconciled := 0
	for _, payment := range stale {
		if err := ctx.Err(); err != nil {
			return reconciled, err
		}
		if w.sweepOne(ctx, &payment) {
			reconciled++
		}
	}

	w.log.Info("reconciliation sweep finished",
		zap.Int("checked", len(stale)),
		zap.Int("reconciled", reconciled),
	)
	return reconciled, nil
}

func (w *Worker) sweepOne(ctx context.Context, payment *paymentdomain.Payment) bool {
	order, err := w.gateway.FetchOrder(ctx, payment.GatewayOrderID)
	if err != nil {
		w.log.Warn("gateway order lookup failed",
			zap.String("payment_id", payment.ID.String()),
			zap.String("gateway_order_id", payment.GatewayOrderID),
			zap.Error(err),
		)
		return false
	}

	if order.Status != paymentdomain.GatewayOrderPaid {
		return false
	}

	gatewayPaymentID := ""
	if payment.GatewayPaymentID != nil {
		gatewayPaymentID = *payment.GatewayPaymentID
	}
	if gatewayPaymentID == "" {
		gatewayPaymentID = "swept_" + payment.GatewayOrderID
	}

	_, err = w.paymentSvc.ApplyCaptureConfirmed(ctx, payment.GatewayOrderID, gatewayPaymentID, paymentdomain.ChannelSweep)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrReconciliationAnomaly) {
			return false
		}
		w.log.Warn("sweep capture failed",
			zap.String("payment_id", payment.ID.String()),
			zap.Error(err),
		)
		return false
	}
	return true
}
