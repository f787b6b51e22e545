package refresh

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/treasury_backend/config"
	"bitbucket.org/mmdatafocus/treasury_backend/models"
	"bitbucket.org/mmdatafocus/treasury_backend/odoo"
)

// Full-replace and single-flight semantics live in real transactions, so they
// need a real MySQL under them.
//
// Usage (requires Docker): INTEGRATION_TESTS=1 go test ./refresh -run Integration -v

type staticMoveSource struct {
	moves []odoo.AccountMove
	err   error
}

func (s *staticMoveSource) FetchMoves(ctx context.Context, domain []odoo.Condition) ([]odoo.AccountMove, error) {
	return s.moves, s.err
}

func (s *staticMoveSource) RecordLink(id int) string { return testLink(id) }

// futureInvoice builds an open invoice no disqualifying predicate can trip
// against the wall clock the reconciler classifies with.
func futureInvoice(id int, name string, amount float64) odoo.AccountMove {
	return odoo.AccountMove{
		ID:             id,
		Name:           odoo.String(name),
		MoveType:       "out_invoice",
		State:          "posted",
		PaymentState:   "not_paid",
		InvoiceDate:    date(2099, 1, 1),
		InvoiceDateDue: date(2099, 6, 1),
		AmountTotal:    amount,
		AmountResidual: amount,
		Company:        odoo.Many2One{ID: 1, Name: "Main Co"},
	}
}

func connectTestDatabase(t *testing.T) {
	t.Helper()

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "treasury_test")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()
}

func TestReconcileFullReplaceIntegration(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	connectTestDatabase(t)
	db := config.GetDB()
	ctx := context.Background()
	rules := localSalesRules(t)

	source := &staticMoveSource{moves: []odoo.AccountMove{
		futureInvoice(1, "INV/2099/0001", 100),
		futureInvoice(2, "INV/2099/0002", 200),
	}}
	reconciler := &Reconciler{DB: db, Connector: source}

	stats, err := reconciler.Reconcile(ctx, rules)
	if err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	if stats.MovementsInserted != 2 || stats.MovementsDeleted != 0 {
		t.Fatalf("first run inserted=%d deleted=%d, want 2/0", stats.MovementsInserted, stats.MovementsDeleted)
	}

	// Same batch again: the prior rows are replaced, never accumulated.
	stats, err = reconciler.Reconcile(ctx, rules)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if stats.MovementsDeleted != 2 || stats.MovementsInserted != 2 {
		t.Fatalf("second run deleted=%d inserted=%d, want 2/2", stats.MovementsDeleted, stats.MovementsInserted)
	}
	var count int64
	db.Model(&models.Movement{}).Where("type = ?", rules.Name).Count(&count)
	if count != 2 {
		t.Fatalf("rows after rerun = %d, want 2", count)
	}

	// A reference absent from the next fetch is gone afterwards.
	source.moves = []odoo.AccountMove{
		futureInvoice(2, "INV/2099/0002", 200),
		futureInvoice(3, "INV/2099/0003", 300),
	}
	if _, err := reconciler.Reconcile(ctx, rules); err != nil {
		t.Fatalf("third reconcile: %v", err)
	}
	var stale int64
	db.Model(&models.Movement{}).Where("reference = ?", "INV/2099/0001 (ID:1)").Count(&stale)
	if stale != 0 {
		t.Fatal("reference dropped upstream survived the replacement")
	}
	db.Model(&models.Movement{}).Where("type = ?", rules.Name).Count(&count)
	if count != 2 {
		t.Fatalf("rows after replacement = %d, want 2", count)
	}

	// A mid-transaction insert failure rolls the whole pass back; the
	// previous rows stay visible. The oversized reference overflows its
	// varchar(100) column under strict mode.
	source.moves = []odoo.AccountMove{
		futureInvoice(4, strings.Repeat("X", 200), 50),
	}
	if _, err := reconciler.Reconcile(ctx, rules); err == nil {
		t.Fatal("expected the oversized reference to fail the insert")
	}
	db.Model(&models.Movement{}).Where("type = ?", rules.Name).Count(&count)
	if count != 2 {
		t.Fatalf("rows after rollback = %d, want the previous 2", count)
	}
}

func TestCreateRunningConflictIntegration(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	connectTestDatabase(t)
	db := config.GetDB()
	ctx := context.Background()
	store := &GormExecutionStore{DB: db}

	execution, err := store.CreateRunning(ctx, 1)
	if err != nil {
		t.Fatalf("first CreateRunning: %v", err)
	}

	// A committed running row rejects the second start.
	_, err = store.CreateRunning(ctx, 2)
	var conflict *AlreadyRunningError
	if !errors.As(err, &conflict) {
		t.Fatalf("second CreateRunning error = %v, want AlreadyRunningError", err)
	}
	if conflict.ExecutionId != execution.ID {
		t.Errorf("conflict executionId = %d, want %d", conflict.ExecutionId, execution.ID)
	}

	if err := store.Finish(ctx, execution.ID, FinishUpdate{
		Status:      models.RefreshStatusCompleted,
		CompletedAt: time.Now().UTC(),
		CurrentStep: stepAllSourcesRefreshed,
	}); err != nil {
		t.Fatalf("finish: %v", err)
	}

	// A competing instance holding the advisory lock past the wait window is
	// reported as the same conflict, not a generic failure.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("raw db: %v", err)
	}
	holder, err := sqlDB.Conn(ctx)
	if err != nil {
		t.Fatalf("holder conn: %v", err)
	}
	defer holder.Close()
	var got int
	if err := holder.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", refreshLockName).Scan(&got); err != nil || got != 1 {
		t.Fatalf("holding lock: ok=%d err=%v", got, err)
	}

	_, err = store.CreateRunning(ctx, 2)
	if !errors.As(err, &conflict) {
		t.Fatalf("lock-wait expiry error = %v, want AlreadyRunningError", err)
	}

	if _, err := holder.ExecContext(ctx, "SELECT RELEASE_LOCK(?)", refreshLockName); err != nil {
		t.Fatalf("releasing lock: %v", err)
	}
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("treasury-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=treasury_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
