package sweep

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/coursepay/internal/clock"
	"github.com/smallbiznis/coursepay/internal/config"
	courserepository "github.com/smallbiznis/coursepay/internal/course/repository"
	enrollmentdomain "github.com/smallbiznis/coursepay/internal/enrollment/domain"
	enrollmentrepository "github.com/smallbiznis/coursepay/internal/enrollment/repository"
	paymentdomain "github.com/smallbiznis/coursepay/internal/payment/domain"
	"github.com/smallbiznis/coursepay/internal/payment/repository"
	paymentservice "github.com/smallbiznis/coursepay/internal/payment/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type gatewayStub struct {
	mu     sync.Mutex
	status map[string]string
	fetch  int
}

func (g *gatewayStub) CreateOrder(ctx context.Context, req paymentdomain.CreateOrderRequest) (*paymentdomain.GatewayOrder, error) {
	return &paymentdomain.GatewayOrder{OrderID: "order_1", Amount: req.Amount, Currency: req.Currency}, nil
}

func (g *gatewayStub) FetchOrder(ctx context.Context, orderID string) (*paymentdomain.GatewayOrder, error) {
	g.mu.Lock()
	g.fetch++
	status := g.status[orderID]
	g.mu.Unlock()
	if status == "" {
		status = paymentdomain.GatewayOrderCreated
	}
	return &paymentdomain.GatewayOrder{OrderID: orderID, Status: status}, nil
}

func (g *gatewayStub) FetchCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fetch
}

type notifierStub struct{}

func (notifierStub) PaymentReceived(context.Context, *paymentdomain.Payment) error { return nil }
func (notifierStub) PaymentFailed(context.Context, *paymentdomain.Payment) error   { return nil }
func (notifierStub) VerificationNeeded(context.Context, *paymentdomain.Payment) error {
	return nil
}
func (notifierStub) EnrollmentApproved(context.Context, *paymentdomain.Payment) error { return nil }
func (notifierStub) EnrollmentRejected(context.Context, *paymentdomain.Payment, string) error {
	return nil
}

type authorizerStub struct{}

func (authorizerStub) IsAuthorizedAdmin(ctx context.Context, adminID, orgID snowflake.ID) (bool, error) {
	return true, nil
}

type sweepFixture struct {
	worker  *Worker
	db      *gorm.DB
	clock   *clock.FakeClock
	gateway *gatewayStub
	node    *snowflake.Node
	orgID   snowflake.ID
}

func setupSweepWorker(t *testing.T) *sweepFixture {
	t.Helper()

	node := mustNode(t)
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error
	_ = db.Exec("PRAGMA journal_mode = WAL").Error
	prepareSweepSchema(t, db)

	fake := clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	gateway := &gatewayStub{status: map[string]string{}}
	repo := repository.Provide()

	paymentSvc := paymentservice.NewService(paymentservice.Params{
		DB:             db,
		Log:            zap.NewNop(),
		GenID:          node,
		Clock:          fake,
		Cfg:            config.Config{},
		Repo:           repo,
		EnrollmentRepo: enrollmentrepository.Provide(),
		CourseRepo:     courserepository.Provide(),
		Gateway:        gateway,
		Notifier:       notifierStub{},
		Authorizer:     authorizerStub{},
	})

	holder := config.NewStaticReconcileConfigHolder(config.ReconcileConfig{
		Interval:       time.Minute,
		StaleInitiated: 30 * time.Minute,
		BatchSize:      10,
	})

	worker := NewWorker(Params{
		DB:         db,
		Log:        zap.NewNop(),
		Clock:      fake,
		Holder:     holder,
		Repo:       repo,
		PaymentSvc: paymentSvc,
		Gateway:    gateway,
	})

	return &sweepFixture{
		worker:  worker,
		db:      db,
		clock:   fake,
		gateway: gateway,
		node:    node,
		orgID:   node.Generate(),
	}
}

// seedInitiated plants a course, a pending enrollment and an initiated
// payment whose updated_at equals the fake clock's current time.
func (f *sweepFixture) seedInitiated(t *testing.T, orderID string) snowflake.ID {
	t.Helper()
	now := f.clock.Now()
	courseID := f.node.Generate()
	enrollmentID := f.node.Generate()
	paymentID := f.node.Generate()

	if err := f.db.Exec(
		`INSERT INTO courses (id, org_id, title, slug, price_amount, currency, enrolled_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		courseID, f.orgID, "Kubernetes Basics", "kubernetes-basics-"+orderID, 9900, "INR", 0, now, now,
	).Error; err != nil {
		t.Fatalf("seed course: %v", err)
	}
	if err := f.db.Exec(
		`INSERT INTO enrollments (id, org_id, learner_id, course_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		enrollmentID, f.orgID, f.node.Generate(), courseID, enrollmentdomain.StatusPending, now, now,
	).Error; err != nil {
		t.Fatalf("seed enrollment: %v", err)
	}
	if err := f.db.Exec(
		`INSERT INTO payments (
			id, org_id, enrollment_id, gateway_order_id, amount, currency, status,
			webhook_received, webhook_verified, verification_notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		paymentID, f.orgID, enrollmentID, orderID, 9900, "INR",
		paymentdomain.StatusInitiated, false, false, "", now, now,
	).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return paymentID
}

func TestRunOnceReconcilesLostCapture(t *testing.T) {
	f := setupSweepWorker(t)
	ctx := context.Background()

	paymentID := f.seedInitiated(t, "order_lost")
	f.gateway.status["order_lost"] = paymentdomain.GatewayOrderPaid
	f.clock.Advance(time.Hour)

	reconciled, err := f.worker.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if reconciled != 1 {
		t.Fatalf("expected 1 reconciled payment, got %d", reconciled)
	}

	var status, gatewayPaymentID string
	if err := f.db.Raw(
		`SELECT status, COALESCE(gateway_payment_id, '') FROM payments WHERE id = ?`, paymentID,
	).Row().Scan(&status, &gatewayPaymentID); err != nil {
		t.Fatalf("read payment: %v", err)
	}
	if status != paymentdomain.StatusPaid {
		t.Fatalf("expected paid payment, got %s", status)
	}
	if gatewayPaymentID != "swept_order_lost" {
		t.Fatalf("expected synthetic gateway payment id, got %q", gatewayPaymentID)
	}
}

func TestRunOnceSkipsFreshPayments(t *testing.T) {
	f := setupSweepWorker(t)
	ctx := context.Background()

	f.seedInitiated(t, "order_fresh")
	f.gateway.status["order_fresh"] = paymentdomain.GatewayOrderPaid
	f.clock.Advance(10 * time.Minute)

	reconciled, err := f.worker.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if reconciled != 0 {
		t.Fatalf("expected no sweep before staleness cutoff, got %d", reconciled)
	}
	if calls := f.gateway.FetchCalls(); calls != 0 {
		t.Fatalf("expected no gateway lookups, got %d", calls)
	}
}

func TestRunOnceLeavesUnpaidOrders(t *testing.T) {
	f := setupSweepWorker(t)
	ctx := context.Background()

	paymentID := f.seedInitiated(t, "order_unpaid")
	f.clock.Advance(time.Hour)

	reconciled, err := f.worker.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if reconciled != 0 {
		t.Fatalf("expected no reconciliation, got %d", reconciled)
	}

	var status string
	if err := f.db.Raw(`SELECT status FROM payments WHERE id = ?`, paymentID).Scan(&status).Error; err != nil {
		t.Fatalf("read payment: %v", err)
	}
	if status != paymentdomain.StatusInitiated {
		t.Fatalf("expected payment to stay initiated, got %s", status)
	}
}

func TestRunOnceIsRepeatable(t *testing.T) {
	f := setupSweepWorker(t)
	ctx := context.Background()

	f.seedInitiated(t, "order_repeat")
	f.gateway.status["order_repeat"] = paymentdomain.GatewayOrderPaid
	f.clock.Advance(time.Hour)

	if _, err := f.worker.RunOnce(ctx); err != nil {
		t.Fatalf("run first: %v", err)
	}
	reconciled, err := f.worker.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run second: %v", err)
	}
	if reconciled != 0 {
		t.Fatalf("expected swept payment to leave the stale set, got %d", reconciled)
	}
}

func prepareSweepSchema(t *testing.T, db *gorm.DB) {
	t.Helper()
	stmts := []string{
		`CREATE TABLE courses (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			title TEXT NOT NULL,
			slug TEXT NOT NULL,
			price_amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			enrolled_count BIGINT NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE enrollments (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			learner_id BIGINT NOT NULL,
			course_id BIGINT NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE payments (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			enrollment_id BIGINT NOT NULL,
			gateway_order_id TEXT NOT NULL,
			gateway_payment_id TEXT,
			signature TEXT,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			webhook_received BOOLEAN NOT NULL DEFAULT false,
			webhook_verified BOOLEAN NOT NULL DEFAULT false,
			verified_by BIGINT,
			verification_notes TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			paid_at DATETIME,
			verified_at DATETIME
		)`,
		`CREATE UNIQUE INDEX idx_payments_enrollment ON payments (enrollment_id)`,
		`CREATE UNIQUE INDEX idx_payments_gateway_order ON payments (gateway_order_id)`,
		`CREATE TABLE webhook_events (
			id BIGINT PRIMARY KEY,
			webhook_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payment_id BIGINT,
			raw_payload TEXT NOT NULL,
			signature TEXT NOT NULL,
			signature_verified BOOLEAN NOT NULL DEFAULT false,
			processed BOOLEAN NOT NULL DEFAULT false,
			processing_error TEXT,
			created_at DATETIME NOT NULL,
			processed_at DATETIME
		)`,
		`CREATE UNIQUE INDEX idx_webhook_events_webhook_id ON webhook_events (webhook_id)`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("prepare schema: %v", err)
		}
	}
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}
