// internal/app/bootstrap/dbdeps.go
package bootstrap

import (
	"github.com/dalemusser/tenancy/internal/app/system/metrics"
	"go.mongodb.org/mongo-driver/mongo"
)

// DBDeps holds database/back-end dependencies for the app.
type DBDeps struct {
	MongoClient   *mongo.Client
	MongoDatabase *mongo.Database

	// Metrics is shared by the transaction manager and the audit sink.
	Metrics *metrics.Collectors
}
