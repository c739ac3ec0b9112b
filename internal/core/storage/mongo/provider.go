package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/syntrixbase/fanout/internal/core/storage/config"
)

const defaultConnectTimeout = 10 * time.Second

// Provider owns the client behind one mongo storage backend.
type Provider struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect opens a client for cfg and pings it. The client is released
// again when the ping fails.
func Connect(ctx context.Context, cfg config.MongoConfig) (*Provider, error) {
	opts := options.Client().ApplyURI(cfg.URI).SetAppName("fanout")
	if opts.ConnectTimeout == nil {
		opts.SetConnectTimeout(defaultConnectTimeout)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &Provider{client: client, db: client.Database(cfg.DatabaseName)}, nil
}

func (p *Provider) Database() *mongo.Database {
	return p.db
}

func (p *Provider) Close(ctx context.Context) error {
	return p.client.Disconnect(ctx)
}
