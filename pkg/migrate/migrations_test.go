package migrate

import "testing"

func TestMigrationsDirIsValid(t *testing.T) {
	if err := ValidateDir("migrations"); err != nil {
		t.Fatalf("migration dir invalid: %v", err)
	}
}
