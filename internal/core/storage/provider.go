package storage

import (
	"context"

	mongodriver "go.mongodb.org/mongo-driver/mongo"
)

// Provider represents a physical connection to a storage backend.
type Provider interface {
	// Close closes the connection.
	Close(ctx context.Context) error
}

// mongoProvider interface to allow mocking
type mongoProvider interface {
	Provider
	Database() *mongodriver.Database
}

// StorageFactory defines the interface for retrieving the key-value stores.
// It abstracts the underlying topology and provider management.
type StorageFactory interface {
	// Timeseries returns the routed time-series store.
	Timeseries() TimeseriesStore

	// Attributes returns the routed attribute store.
	Attributes() AttributesStore

	// Close closes all underlying providers and connections.
	Close(ctx context.Context) error
}
