//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/sokoline/payments-api/internal/domain"
	pconfig "github.com/sokoline/payments-api/internal/platform/config"
	pfirestore "github.com/sokoline/payments-api/internal/platform/firestore"
	"github.com/sokoline/payments-api/internal/repositories"
)

func TestTransactionRepositoryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	cfg := pconfig.FirestoreConfig{
		ProjectID:    "payments-test",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	repo, err := NewTransactionRepository(provider)
	if err != nil {
		t.Fatalf("new transaction repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("firestore client: %v", err)
	}

	seed := transactionDocument{
		PayableType: string(domain.PayableOrder),
		PayableID:   "order-1",
		Status:      string(domain.TransactionStatusProgress),
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if _, err := client.Collection(transactionCollection).Doc("trx-1").Set(ctx, seed); err != nil {
		t.Fatalf("seed transaction: %v", err)
	}

	// Redirect and webhook race for the same transaction with conflicting
	// terminal statuses. Exactly one write must win; the loser is skipped.
	const workers = 8
	statuses := []domain.TransactionStatus{
		domain.TransactionStatusPaid,
		domain.TransactionStatusCanceled,
	}
	results := make([]repositories.ResultApplication, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(idx int) {
			defer wg.Done()
			app, err := repo.ApplyResult(ctx, "trx-1", "order-1", statuses[idx%len(statuses)])
			if err != nil {
				t.Errorf("apply result %d: %v", idx, err)
				return
			}
			results[idx] = app
		}(i)
	}
	wg.Wait()

	final, err := repo.FindByID(ctx, "trx-1")
	if err != nil {
		t.Fatalf("find transaction: %v", err)
	}
	if !final.Status.Terminal() {
		t.Fatalf("expected a terminal status after the race, got %q", final.Status)
	}
	if final.GatewayTrxID != "order-1" {
		t.Fatalf("expected gateway reference order-1, got %q", final.GatewayTrxID)
	}
	for idx, app := range results {
		if app.Applied && app.Transaction.Status != final.Status && statuses[idx%len(statuses)] != final.Status {
			t.Fatalf("conflicting terminal write %d reported as applied: %+v", idx, app)
		}
	}

	// A conflicting late signal must be skipped, a matching one reapplied.
	conflicting := domain.TransactionStatusPaid
	if final.Status == domain.TransactionStatusPaid {
		conflicting = domain.TransactionStatusCanceled
	}
	app, err := repo.ApplyResult(ctx, "trx-1", "order-1", conflicting)
	if err != nil {
		t.Fatalf("apply conflicting result: %v", err)
	}
	if app.Applied {
		t.Fatalf("expected conflicting terminal write to be skipped, got %+v", app)
	}
	if app.Transaction.Status != final.Status {
		t.Fatalf("expected stored status %q to survive, got %q", final.Status, app.Transaction.Status)
	}

	// Webhook correlation by gateway token.
	tokenSeed := transactionDocument{
		PayableType:  string(domain.PayableParcel),
		PayableID:    "parcel-1",
		GatewayTrxID: "tok_int_1",
		Status:       string(domain.TransactionStatusProgress),
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if _, err := client.Collection(transactionCollection).Doc("trx-2").Set(ctx, tokenSeed); err != nil {
		t.Fatalf("seed token transaction: %v", err)
	}

	byToken, err := repo.ApplyResultByToken(ctx, "tok_int_1", domain.TransactionStatusPaid)
	if err != nil {
		t.Fatalf("apply result by token: %v", err)
	}
	if !byToken.Applied || byToken.Transaction.Status != domain.TransactionStatusPaid {
		t.Fatalf("expected paid application by token, got %+v", byToken)
	}

	_, err = repo.ApplyResultByToken(ctx, "tok_missing", domain.TransactionStatusPaid)
	if err == nil {
		t.Fatal("expected not found for an unknown token")
	}
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not-found repository error, got %T %v", err, err)
	}
}

func TestShopSubscriptionRepositoryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "payments-test",
		EmulatorHost: endpoint,
	})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	repo, err := NewShopSubscriptionRepository(provider)
	if err != nil {
		t.Fatalf("new shop subscription repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	_, err = repo.FindCurrent(ctx, "shop-1", "sub-1")
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not-found before insert, got %T %v", err, err)
	}

	now := time.Now().UTC()
	attachment := domain.ShopSubscription{
		ID:             "att-1",
		ShopID:         "shop-1",
		SubscriptionID: "sub-1",
		Active:         true,
		ExpiredAt:      now.AddDate(0, 1, 0),
		TransactionID:  "trx-att-1",
	}
	trx := domain.Transaction{
		ID:          "trx-att-1",
		PayableType: domain.PayableSubscription,
		PayableID:   "att-1",
		Status:      domain.TransactionStatusProgress,
	}
	if _, err := repo.Insert(ctx, attachment, trx); err != nil {
		t.Fatalf("insert attachment: %v", err)
	}

	current, err := repo.FindCurrent(ctx, "shop-1", "sub-1")
	if err != nil {
		t.Fatalf("find current: %v", err)
	}
	if current.ID != "att-1" || !current.Active || current.TransactionID != "trx-att-1" {
		t.Fatalf("unexpected current attachment: %+v", current)
	}

	// The owned transaction is written atomically with the attachment.
	trxRepo, err := NewTransactionRepository(provider)
	if err != nil {
		t.Fatalf("new transaction repository: %v", err)
	}
	owned, err := trxRepo.FindByID(ctx, "trx-att-1")
	if err != nil {
		t.Fatalf("find owned transaction: %v", err)
	}
	if owned.PayableType != domain.PayableSubscription || owned.PayableID != "att-1" {
		t.Fatalf("unexpected owned transaction: %+v", owned)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		t.Fatalf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "stop", id)
	_ = cmd.Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
