// Package archive persists every procurement item a search surfaces
// into a MongoDB append-only read model, independent of the Postgres
// search/timeline/status tables — a historical log the analytics side
// can query by search_id without replaying the pipeline.
//
// Grounded on the teacher's
// internal/customer/infrastructure/persistence/mongodb package shape
// (db *mongo.Database held alongside a resolved *mongo.Collection,
// bson.M filters, cursor.All decoding).
package archive

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/tjsasakifln/bidiq/internal/domain"
)

const collectionName = "procurement_archive"

// Item is the denormalized, bson-tagged read-model shape one
// domain.UnifiedProcurement is archived as. SearchID ties every
// archived item back to the Postgres search row that surfaced it.
type Item struct {
	SearchID        string    `bson:"search_id"`
	SourceID        string    `bson:"source_id"`
	SourceName      string    `bson:"source_name"`
	DedupKey        string    `bson:"dedup_key"`
	Objeto          string    `bson:"objeto"`
	ValorEstimado   float64   `bson:"valor_estimado"`
	Orgao           string    `bson:"orgao"`
	CNPJOrgao       string    `bson:"cnpj_orgao"`
	UF              string    `bson:"uf"`
	Municipio       string    `bson:"municipio"`
	DataPublicacao  time.Time `bson:"data_publicacao"`
	DataEncerramento time.Time `bson:"data_encerramento"`
	NumeroEdital    string    `bson:"numero_edital"`
	Ano             int       `bson:"ano"`
	Modalidade      int       `bson:"modalidade"`
	Situacao        string    `bson:"situacao"`
	Esfera          string    `bson:"esfera"`
	LinkEdital      string    `bson:"link_edital"`
	ArchivedAt      time.Time `bson:"archived_at"`
}

// Store writes and reads procurement_archive documents.
type Store struct {
	collection *mongo.Collection
}

// NewStore builds a Store against db's procurement_archive collection.
func NewStore(db *mongo.Database) *Store {
	return &Store{collection: db.Collection(collectionName)}
}

// Archive appends one document per item, tagged with searchID. It does
// not deduplicate across searches — the same tender appearing in two
// searches produces two archive rows, since this is a historical log of
// what each search actually returned, not a deduplicated catalog.
func (s *Store) Archive(ctx context.Context, searchID string, items []*domain.UnifiedProcurement) error {
	if len(items) == 0 {
		return nil
	}

	now := time.Now().UTC()
	docs := make([]interface{}, 0, len(items))
	for _, item := range items {
		docs = append(docs, toArchiveItem(searchID, item, now))
	}

	if _, err := s.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("archive: failed to insert %d items for search %s: %w", len(items), searchID, err)
	}
	return nil
}

// FindBySearchID returns every item archived for one search, in
// insertion order.
func (s *Store) FindBySearchID(ctx context.Context, searchID string) ([]Item, error) {
	cursor, err := s.collection.Find(ctx, bson.M{"search_id": searchID})
	if err != nil {
		return nil, fmt.Errorf("archive: failed to query search %s: %w", searchID, err)
	}
	defer cursor.Close(ctx)

	var items []Item
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("archive: failed to decode items for search %s: %w", searchID, err)
	}
	return items, nil
}

func toArchiveItem(searchID string, p *domain.UnifiedProcurement, archivedAt time.Time) Item {
	return Item{
		SearchID:         searchID,
		SourceID:         p.SourceID,
		SourceName:       p.SourceName,
		DedupKey:         p.DedupKey,
		Objeto:           p.Objeto,
		ValorEstimado:    p.ValorEstimado,
		Orgao:            p.Orgao,
		CNPJOrgao:        p.CNPJOrgao,
		UF:               p.UF,
		Municipio:        p.Municipio,
		DataPublicacao:   p.DataPublicacao,
		DataEncerramento: p.DataEncerramento,
		NumeroEdital:     p.NumeroEdital,
		Ano:              p.Ano,
		Modalidade:       p.Modalidade,
		Situacao:         p.Situacao,
		Esfera:           p.Esfera,
		LinkEdital:       p.LinkEdital,
		ArchivedAt:       archivedAt,
	}
}
