package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/storehubhq/storehub-backend/pkg/migrate"
)

func TestSubscriptionsMigrationEnforcesOneLiveSubscription(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_subscriptions.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no subscriptions migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE UNIQUE INDEX uniq_subscriptions_live_user ON subscriptions (user_id)",
		"WHERE status IN ('pending_payment', 'trialing', 'active', 'past_due')",
		"version              BIGINT NOT NULL DEFAULT 1",
		"DROP TABLE subscriptions",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestTransactionsMigrationEnforcesIdempotencyKeys(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_transactions.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no transactions migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE UNIQUE INDEX uniq_transactions_reference ON transactions (reference)",
		"CREATE UNIQUE INDEX uniq_transactions_provider_tx_id ON transactions (provider_tx_id) WHERE provider_tx_id IS NOT NULL",
		"DROP TABLE transactions",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationsDirValidates(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations dir: %v", err)
	}
}
