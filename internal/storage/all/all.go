// Package all links every storage backend into a binary. Import it for its
// side effects.
package all

import (
	_ "github.com/microsoft/go-mssqldb"

	_ "ncd/internal/storage/blobstore"
	_ "ncd/internal/storage/mssql"
	_ "ncd/internal/storage/postgres"
	_ "ncd/internal/storage/sqlite"
)
