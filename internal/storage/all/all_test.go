package all

import (
	"database/sql"
	"testing"

	"ncd/internal/storage"
)

func TestAllBackendsRegistered(t *testing.T) {
	t.Parallel()

	want := map[string]bool{"blobstore": false, "mssql": false, "postgres": false, "sqlite": false}
	for _, k := range storage.Kinds() {
		if _, ok := want[k]; ok {
			want[k] = true
		}
	}
	for k, ok := range want {
		if !ok {
			t.Errorf("backend %q not registered", k)
		}
	}

	found := false
	for _, d := range sql.Drivers() {
		if d == "sqlserver" {
			found = true
		}
	}
	if !found {
		t.Errorf("sqlserver driver not registered: %v", sql.Drivers())
	}
}
