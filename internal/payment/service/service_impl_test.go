package service

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
	"github.com/smallbiznis/coursepay/internal/payment/domain"
	"github.com/smallbiznis/coursepay/internal/payment/repository"
	"github.com/smallbiznis/coursepay/internal/payment/signature"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testKeySecret = "test_key_secret"

type gatewayStub struct {
	mu          sync.Mutex
	createCalls int
	fetchStatus string
	err         error
}

func (g *gatewayStub) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.GatewayOrder, error) {
	g.mu.Lock()
	g.createCalls++
	n := g.createCalls
	g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	return &domain.GatewayOrder{
		OrderID:  fmt.Sprintf("order_%d", n),
		Amount:   req.Amount,
		Currency: req.Currency,
		Status:   domain.GatewayOrderCreated,
	}, nil
}

func (g *gatewayStub) FetchOrder(ctx context.Context, orderID string) (*domain.GatewayOrder, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &domain.GatewayOrder{OrderID: orderID, Status: g.fetchStatus}, nil
}

func (g *gatewayStub) CreateCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createCalls
}

type notifierStub struct {
	mu       sync.Mutex
	received int
	failed   int
	needed   int
	approved int
	rejected int
}

func (n *notifierStub) PaymentReceived(ctx context.Context, payment *domain.Payment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.received++
	return nil
}

func (n *notifierStub) PaymentFailed(ctx context.Context, payment *domain.Payment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed++
	return nil
}

func (n *notifierStub) VerificationNeeded(ctx context.Context, payment *domain.Payment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.needed++
	return nil
}

func (n *notifierStub) EnrollmentApproved(ctx context.Context, payment *domain.Payment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.approved++
	return nil
}

func (n *notifierStub) EnrollmentRejected(ctx context.Context, payment *domain.Payment, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejected++
	return nil
}

func (n *notifierStub) Received() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.received
}

type authorizerStub struct {
	allowed bool
}

func (a *authorizerStub) IsAuthorizedAdmin(ctx context.Context, adminID, orgID snowflake.ID) (bool, error) {
	return a.allowed, nil
}

type paymentFixture struct {
	svc          domain.Service
	db           *gorm.DB
	gateway      *gatewayStub
	notifier     *notifierStub
	authorizer   *authorizerStub
	orgID        snowflake.ID
	courseID     snowflake.ID
	enrollmentID snowflake.ID
}

func setupPaymentService(t *testing.T, node *snowflake.Node) *paymentFixture {
	t.Helper()

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
	preparePaymentSchema(t, db)

	orgID := node.Generate()
	courseID := node.Generate()
	learnerID := node.Generate()
	enrollmentID := node.Generate()
	seedCourse(t, db, orgID, courseID)
	seedEnrollment(t, db, orgID, learnerID, courseID, enrollmentID)

	gateway := &gatewayStub{fetchStatus: domain.GatewayOrderCreated}
	notifier := &notifierStub{}
	authorizer := &authorizerStub{allowed: true}

	svc := NewService(Params{
		DB:             db,
		Log:            zap.NewNop(),
		GenID:          node,
		Clock:          clock.NewSystemClock(),
		Cfg:            config.Config{Gateway: config.GatewayConfig{KeySecret: testKeySecret}},
		Repo:           repository.Provide(),
		EnrollmentRepo: enrollmentrepository.Provide(),
		CourseRepo:     courserepository.Provide(),
		Gateway:        gateway,
		Notifier:       notifier,
		Authorizer:     authorizer,
	})

	return &paymentFixture{
		svc:          svc,
		db:           db,
		gateway:      gateway,
		notifier:     notifier,
		authorizer:   authorizer,
		orgID:        orgID,
		courseID:     courseID,
		enrollmentID: enrollmentID,
	}
}

func TestInitiateOrderCreatesPayment(t *testing.T) {
	node := mustNode(t)
	f := setupPaymentService(t, node)
	ctx := context.Background()

	order, err := f.svc.InitiateOrder(ctx, f.enrollmentID)
	if err != nil {
		t.Fatalf("initiate order: %v", err)
	}
	if order.OrderID == "" {
		t.Fatal("expected a gateway order id")
	}
	if order.Amount != 49900 || order.Currency != "INR" {
		t.Fatalf("expected course pricing on order, got %d %s", order.Amount, order.Currency)
	}

	payment := mustPayment(t, f.db, order.PaymentID)
	if payment.Status != domain.StatusInitiated {
		t.Fatalf("expected initiated payment, got %s", payment.Status)
	}
	if count := countPayments(t, f.db); count != 1 {
		t.Fatalf("expected 1 payment, got %d", count)
	}
}

func TestInitiateOrderReusesOpenOrder(t *testing.T) {
	node := mustNode(t)
	f := setupPaymentService(t, node)
	ctx := context.Background()

	first, err := f.svc.InitiateOrder(ctx, f.enrollmentID)
	if err != nil {
		t.Fatalf("initiate first: %v", err)
	}
	second, err := f.svc.InitiateOrder(ctx, f.enrollmentID)
	if err != nil {
		t.Fatalf("initiate second: %v", err)
	}

	if first.OrderID != second.OrderID {
		t.Fatalf("expected reused order, got %s vs %s", first.OrderID, second.OrderID)
	}
	if calls := f.gateway.CreateCalls(); calls != 1 {
		t.Fatalf("expected 1 gateway order creation, got %d", calls)
	}
	if count := countPayments(t, f.db); count != 1 {
		t.Fatalf("expected 1 payment, got %d", count)
	}
}

func TestInitiateOrderClosedPayment(t *testing.T) {
	node := mustNode(t)
	f := setupPaymentService(t, node)
	ctx := context.Background()

	order, err := f.svc.InitiateOrder(ctx, f.enrollmentID)
	if err != nil {
		t.Fatalf("initiate order: %v", err)
	}
	if _, err := f.svc.ApplyCaptureConfirmed(ctx, order.OrderID, "pay_1", domain.ChannelWebhook); err != nil {
		t.Fatalf("capture: %v", err)
	}

	if _, err := f.svc.InitiateOrder(ctx, f.enrollmentID); err != domain.ErrAlreadyPaid {
		t.Fatalf("expected payment_already_paid, got %v", err)
	}
}

func TestCaptureIdempotent(t *testing.T) {
	node := mustNode(t)
	f := setupPaymentService(t, node)
	ctx := context.Background()

	order, err := f.svc.InitiateOrder(ctx, f.enrollmentID)
	if err != nil {
		t.Fatalf("initiate order: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := f.svc.ApplyCaptureConfirmed(ctx, order.OrderID, "pay_1", domain.ChannelWebhook); err != nil {
			t.Fatalf("capture %d: %v", i, err)
		}
	}

	payment := mustPayment(t, f.db, order.PaymentID)
	if payment.Status != domain.StatusPaid {
		t.Fatalf("expected paid payment, got %s", payment.Status)
	}
	if status := enrollmentStatus(t, f.db, f.enrollmentID); status != enrollmentdomain.StatusPaymentVerification {
		t.Fatalf("expected payment_verification enrollment, got %s", status)
	}
	if got := f.notifier.Received(); got != 1 {
		t.Fatalf("expected 1 payment received notification, got %d", got)
	}
}

func TestCaptureOrderIndependence(t *testing.T) {
	node := mustNode(t)
	f := setupPaymentService(t, node)
	ctx := context.Background()

	order, err := f.svc.InitiateOrder(ctx, f.enrollmentID)
	if err != nil {
		t.Fatalf("initiate order: %v", err)
	}

	// Webhook lands first, the client confirmation replays afterwards.
	if _, err := f.svc.ApplyCaptureConfirmed(ctx, order.OrderID, "pay_1", domain.ChannelWebhook); err != nil {
		t.Fatalf("webhook capture: %v", err)
	}
	sig := signature.Sign(testKeySecret, signature.OrderPayload(order.OrderID, "pay_1"))
	replay, err := f.svc.VerifyClientCapture(ctx, domain.ClientCaptureRequest{
		OrderID:          order.OrderID,
		GatewayPaymentID: "pay_1",
		Signature:        sig,
	})
	if err != nil {
		t.Fatalf("client replay: %v", err)
	}
	if replay.Status != domain.StatusPaid {
		t.Fatalf("expected paid payment on replay, got %s", replay.Status)
	}

	payment := mustPayment(t, f.db, order.PaymentID)
	if !payment.WebhookReceived || !payment.WebhookVerified {
		t.Fatal("expected webhook flags set by the winning channel")
	}
	if got := f.notifier.Received(); got != 1 {
		t.Fatalf("expected 1 payment received notification, got %d", got)
	}
}

func TestCaptureConcurrentSingleTransition(t *testing.T) {
	node := mustNode(t)
	f := setupPaymentService(t, node)
	ctx := context.Background()

	order, err := f.svc.InitiateOrder(ctx, f.enrollmentID)
	if err != nil {
		t.Fatalf("initiate order: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ApplyCaptureConfirmed(ctx, order.OrderID, "pay_1", domain.ChannelWebhook)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent capture: %v", err)
		}
	}

	if got := f.notifier.Received(); got != 1 {
		t.Fatalf("expected exactly 1 paid transition, got %d", got)
	}
	if status := enrollmentStatus(t, f.db, f.enrollmentID); status != enrollmentdomain.StatusPaymentVerification {
		t.Fatalf("expected payment_verification enrollment, got %s", status)
	}
}

func TestInvalidClientSignatureFailsPayment(t *testing.T) {
	node := mustNode(t)
	f := setupPaymentService(t, node)
	ctx := context.Background()

	order, err := f.svc.InitiateOrder(ctx, f.enrollmentID)
	if err != nil {
		t.Fatalf("initiate order: %v", err)
	}

	_, err = f.svc.VerifyClientCapture(ctx, domain.ClientCaptureRequest{
		OrderID:          order.OrderID,
		GatewayPaymentID: "pay_1",
		Signature:        "deadbeef",
	})
	if err != domain.ErrInvalidSignature {
		t.Fatalf("expected invalid_signature, got %v", err)
	}

	payment := mustPayment(t, f.db, order.PaymentID)
	if payment.Status != domain.StatusFailed {
		t.Fatalf("expected failed payment, got %s", payment.Status)
	}
	if status := enrollmentStatus(t, f.db, f.enrollmentID); status != enrollmentdomain.StatusPending {
		t.Fatalf("expected pending enrollment, got %s", status)
	}

	// A capture confirmation arriving after the failure is an anomaly
	// and must not revive the payment.
	_, err = f.svc.ApplyCaptureConfirmed(ctx, order.OrderID, "pay_1", domain.ChannelWebhook)
	if err != domain.ErrReconciliationAnomaly {
		t.Fatalf("expected reconciliation_anomaly, got %v", err)
	}
	payment = mustPayment(t, f.db, order.PaymentID)
	if payment.Status != domain.StatusFailed {
		t.Fatalf("expected payment to stay failed, got %s", payment.Status)
	}
	if status := enrollmentStatus(t, f.db, f.enrollmentID); status != enrollmentdomain.StatusPending {
		t.Fatalf("expected enrollment to stay pending, got %s", status)
	}
}

func TestApproveActivatesEnrollmentOnce(t *testing.T) {
	node := mustNode(t)
	f := setupPaymentService(t, node)
	ctx := context.Background()
	adminID := node.Generate()

	order, err := f.svc.InitiateOrder(ctx, f.enrollmentID)
	if err != nil {
		t.Fatalf("initiate order: %v", err)
	}
	if _, err := f.svc.ApplyCaptureConfirmed(ctx, order.OrderID, "pay_1", domain.ChannelWebhook); err != nil {
		t.Fatalf("capture: %v", err)
	}

	approved, err := f.svc.Approve(ctx, domain.AdminDecisionRequest{
		PaymentID: order.PaymentID,
		AdminID:   adminID,
		Notes:     "bank statement matched",
	})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != domain.StatusVerified {
		t.Fatalf("expected verified payment, got %s", approved.Status)
	}
	if approved.VerifiedBy == nil || *approved.VerifiedBy != adminID {
		t.Fatal("expected verified_by to record the admin")
	}
	if status := enrollmentStatus(t, f.db, f.enrollmentID); status != enrollmentdomain.StatusActive {
		t.Fatalf("expected active enrollment, got %s", status)
	}
	if count := enrolledCount(t, f.db, f.courseID); count != 1 {
		t.Fatalf("expected enrolled_count 1, got %d", count)
	}

	// A second approval finds the payment no longer paid.
	_, err = f.svc.Approve(ctx, domain.AdminDecisionRequest{PaymentID: order.PaymentID, AdminID: adminID})
	if err != domain.ErrInvalidStateTransition {
		t.Fatalf("expected invalid_state_transition, got %v", err)
	}
	if count := enrolledCount(t, f.db, f.courseID); count != 1 {
		t.Fatalf("expected enrolled_count to stay 1, got %d", count)
	}
}

func TestRejectClosesEnrollment(t *testing.T) {
	node := mustNode(t)
	f := setupPaymentService(t, node)
	ctx := context.Background()
	adminID := node.Generate()

	order, err := f.svc.InitiateOrder(ctx, f.enrollmentID)
	if err != nil {
		t.Fatalf("initiate order: %v", err)
	}
	if _, err := f.svc.ApplyCaptureConfirmed(ctx, order.OrderID, "pay_1", domain.ChannelWebhook); err != nil {
		t.Fatalf("capture: %v", err)
	}

	rejected, err := f.svc.Reject(ctx, domain.AdminDecisionRequest{
		PaymentID: order.PaymentID,
		AdminID:   adminID,
		Notes:     "amount mismatch",
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != domain.StatusRejected {
		t.Fatalf("expected rejected payment, got %s", rejected.Status)
	}
	if status := enrollmentStatus(t, f.db, f.enrollmentID); status != enrollmentdomain.StatusRejected {
		t.Fatalf("expected rejected enrollment, got %s", status)
	}
	if count := enrolledCount(t, f.db, f.courseID); count != 0 {
		t.Fatalf("expected enrolled_count 0, got %d", count)
	}
}

func TestApproveRequiresAuthorizedAdmin(t *testing.T) {
	node := mustNode(t)
	f := setupPaymentService(t, node)
	ctx := context.Background()

	order, err := f.svc.InitiateOrder(ctx, f.enrollmentID)
	if err != nil {
		t.Fatalf("initiate order: %v", err)
	}
	if _, err := f.svc.ApplyCaptureConfirmed(ctx, order.OrderID, "pay_1", domain.ChannelWebhook); err != nil {
		t.Fatalf("capture: %v", err)
	}

	f.authorizer.allowed = false
	_, err = f.svc.Approve(ctx, domain.AdminDecisionRequest{PaymentID: order.PaymentID, AdminID: node.Generate()})
	if err != domain.ErrUnauthorizedAdmin {
		t.Fatalf("expected unauthorized_admin, got %v", err)
	}

	payment := mustPayment(t, f.db, order.PaymentID)
	if payment.Status != domain.StatusPaid {
		t.Fatalf("expected payment to stay paid, got %s", payment.Status)
	}
}

func preparePaymentSchema(t *testing.T, db *gorm.DB) {
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
		`CREATE UNIQUE INDEX idx_enrollments_learner_course ON enrollments (learner_id, course_id)`,
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

func seedCourse(t *testing.T, db *gorm.DB, orgID, courseID snowflake.ID) {
	t.Helper()
	now := time.Now().UTC()
	if err := db.Exec(
		`INSERT INTO courses (id, org_id, title, slug, price_amount, currency, enrolled_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		courseID, orgID, "Distributed Systems", "distributed-systems", 49900, "INR", 0, now, now,
	).Error; err != nil {
		t.Fatalf("seed course: %v", err)
	}
}

func seedEnrollment(t *testing.T, db *gorm.DB, orgID, learnerID, courseID, enrollmentID snowflake.ID) {
	t.Helper()
	now := time.Now().UTC()
	if err := db.Exec(
		`INSERT INTO enrollments (id, org_id, learner_id, course_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		enrollmentID, orgID, learnerID, courseID, enrollmentdomain.StatusPending, now, now,
	).Error; err != nil {
		t.Fatalf("seed enrollment: %v", err)
	}
}

func mustPayment(t *testing.T, db *gorm.DB, id snowflake.ID) *domain.Payment {
	t.Helper()
	payment, err := repository.Provide().FindByID(context.Background(), db, id)
	if err != nil {
		t.Fatalf("find payment: %v", err)
	}
	if payment == nil {
		t.Fatalf("payment %s not found", id.String())
	}
	return payment
}

func enrollmentStatus(t *testing.T, db *gorm.DB, id snowflake.ID) string {
	t.Helper()
	var status string
	if err := db.Raw(`SELECT status FROM enrollments WHERE id = ?`, id).Scan(&status).Error; err != nil {
		t.Fatalf("enrollment status: %v", err)
	}
	return status
}

func enrolledCount(t *testing.T, db *gorm.DB, courseID snowflake.ID) int {
	t.Helper()
	var count int
	if err := db.Raw(`SELECT enrolled_count FROM courses WHERE id = ?`, courseID).Scan(&count).Error; err != nil {
		t.Fatalf("enrolled count: %v", err)
	}
	return count
}

func countPayments(t *testing.T, db *gorm.DB) int {
	t.Helper()
	var count int
	if err := db.Raw(`SELECT COUNT(1) FROM payments`).Scan(&count).Error; err != nil {
		t.Fatalf("count payments: %v", err)
	}
	return count
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}
