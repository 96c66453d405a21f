// Package migration imports legacy sticker ownership records from the old
// MongoDB deployment into Postgres. It is a one-shot tool invoked from the
// command line, not part of the serving path.
package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"

	"github.com/swapdesk/stickerswap/stickerswap/database/models"
)

const (
	defaultBatchSize      = 1000
	defaultInsertWorkers  = 4
	defaultConnectTimeout = 10 * time.Second
)

// legacyStickerDoc mirrors the document shape of the old collection.
type legacyStickerDoc struct {
	StickerID  int64     `bson:"stickerid"`
	Name       string    `bson:"name"`
	Rarity     int       `bson:"level"`
	OwnerID    string    `bson:"userid"`
	Serial     int64     `bson:"serial"`
	ObtainedAt time.Time `bson:"obtained"`
}

type Stats struct {
	Read     int
	Imported int
	Skipped  int
	Took     time.Duration
}

type Importer struct {
	pgDB       *bun.DB
	uri        string
	database   string
	collection string
	batchSize  int
	workers    int
}

func NewImporter(pgDB *bun.DB, uri, database, collection string) *Importer {
	return &Importer{
		pgDB:       pgDB,
		uri:        uri,
		database:   database,
		collection: collection,
		batchSize:  defaultBatchSize,
		workers:    defaultInsertWorkers,
	}
}

// SetBatchSize overrides the default insert batch size.
func (m *Importer) SetBatchSize(size int) {
	if size > 0 {
		m.batchSize = size
	}
}

// Run streams the legacy collection and inserts sticker instances in
// parallel batches. Documents without an owner are skipped, not failed.
func (m *Importer) Run(ctx context.Context) (*Stats, error) {
	start := time.Now()

	connectCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(m.uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	defer client.Disconnect(ctx)

	cursor, err := client.Database(m.database).Collection(m.collection).Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to open cursor: %w", err)
	}
	defer cursor.Close(ctx)

	stats := &Stats{}
	batches := make(chan []*models.StickerInstance, m.workers)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < m.workers; i++ {
		g.Go(func() error {
			for batch := range batches {
				if _, err := m.pgDB.NewInsert().
					Model(&batch).
					On("CONFLICT DO NOTHING").
					Exec(gctx); err != nil {
					return fmt.Errorf("failed to insert batch: %w", err)
				}
			}
			return nil
		})
	}

	batch := make([]*models.StickerInstance, 0, m.batchSize)
	flush := func() bool {
		if len(batch) == 0 {
			return true
		}
		select {
		case batches <- batch:
			batch = make([]*models.StickerInstance, 0, m.batchSize)
			return true
		case <-gctx.Done():
			return false
		}
	}

	for cursor.Next(ctx) {
		var doc legacyStickerDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		stats.Read++
		if doc.OwnerID == "" {
			stats.Skipped++
			continue
		}

		batch = append(batch, &models.StickerInstance{
			StickerID:  doc.StickerID,
			Name:       doc.Name,
			Rarity:     doc.Rarity,
			OwnerID:    doc.OwnerID,
			Serial:     doc.Serial,
			ObtainedAt: doc.ObtainedAt,
			UpdatedAt:  time.Now(),
		})
		stats.Imported++
		if len(batch) >= m.batchSize {
			if !flush() {
				break
			}
		}
	}
	flush()
	close(batches)

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	stats.Took = time.Since(start)
	slog.Info("Legacy import finished",
		slog.String("type", "db"),
		slog.Int("read", stats.Read),
		slog.Int("imported", stats.Imported),
		slog.Int("skipped", stats.Skipped),
		slog.Duration("took", stats.Took))
	return stats, nil
}
