// Package news stores financial news articles in MongoDB. The store is
// optional: without MONGODB_URI the service stays disabled and the news
// endpoint reports the feature as unavailable.
package news

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"miraikakaku/apperrors"
)

const (
	databaseName   = "miraikakaku"
	newsCollection = "financial_news"

	connectTimeout = 30 * time.Second
	opTimeout      = 10 * time.Second

	// Articles older than this are pruned by the weekly cleanup.
	retention = 90 * 24 * time.Hour
)

// Article is a financial news document. The _id is a hash of the URL, so
// refetching a feed upserts instead of duplicating.
type Article struct {
	ID          string    `bson:"_id" json:"id"`
	Symbol      string    `bson:"symbol" json:"symbol"`
	Title       string    `bson:"title" json:"title"`
	Summary     string    `bson:"summary,omitempty" json:"summary,omitempty"`
	Source      string    `bson:"source" json:"source"`
	URL         string    `bson:"url" json:"url"`
	Sentiment   string    `bson:"sentiment,omitempty" json:"sentiment,omitempty"`
	PublishedAt time.Time `bson:"published_at" json:"published_at"`
	FetchedAt   time.Time `bson:"fetched_at" json:"fetched_at"`
}

// ArticleID derives the document id from the article URL
func ArticleID(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:16])
}

// Service wraps the MongoDB news store
type Service struct {
	client    *mongo.Client
	database  *mongo.Database
	mu        sync.RWMutex
	connected bool
	lastError string
}

// NewService connects to MongoDB if uri is set; with an empty uri the
// service is created disabled.
func NewService(uri string) *Service {
	s := &Service{}
	if uri == "" {
		s.lastError = "MONGODB_URI not set, news storage disabled"
		log.Println(s.lastError)
		return s
	}
	if err := s.connect(uri); err != nil {
		log.Printf("News storage unavailable: %v", err)
	}
	return s
}

func (s *Service) connect(uri string) error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetMaxPoolSize(10).
		SetConnectTimeout(connectTimeout).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		s.lastError = err.Error()
		return fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		s.lastError = err.Error()
		return fmt.Errorf("ping MongoDB: %w", err)
	}

	s.mu.Lock()
	s.client = client
	s.database = client.Database(databaseName)
	s.connected = true
	s.lastError = ""
	s.mu.Unlock()

	s.createIndexes()
	log.Println("News storage connected")
	return nil
}

func (s *Service) createIndexes() {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	coll := s.database.Collection(newsCollection)
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "symbol", Value: 1}, {Key: "published_at", Value: -1}}},
		{Keys: bson.D{{Key: "published_at", Value: 1}}},
	})
	if err != nil {
		log.Printf("news: create indexes: %v", err)
	}
}

// Enabled reports whether the news store is usable
func (s *Service) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Status returns connection details for the admin API
func (s *Service) Status() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status := map[string]interface{}{"connected": s.connected}
	if s.lastError != "" {
		status["error"] = s.lastError
	}
	return status
}

// UpsertArticles writes articles keyed by URL hash
func (s *Service) UpsertArticles(ctx context.Context, articles []Article) error {
	if !s.Enabled() {
		return apperrors.DataFetch("news storage disabled", nil)
	}
	if len(articles) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	coll := s.database.Collection(newsCollection)
	writes := make([]mongo.WriteModel, 0, len(articles))
	for _, a := range articles {
		if a.ID == "" {
			a.ID = ArticleID(a.URL)
		}
		if a.FetchedAt.IsZero() {
			a.FetchedAt = time.Now().UTC()
		}
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": a.ID}).
			SetReplacement(a).
			SetUpsert(true))
	}

	_, err := coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return apperrors.Database("upsert news articles", err)
	}
	return nil
}

// LatestForSymbol returns up to limit articles for a symbol, newest first
func (s *Service) LatestForSymbol(ctx context.Context, symbol string, limit int) ([]Article, error) {
	if !s.Enabled() {
		return nil, apperrors.DataFetch("news storage disabled", nil)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	coll := s.database.Collection(newsCollection)
	cursor, err := coll.Find(ctx,
		bson.M{"symbol": symbol},
		options.Find().SetSort(bson.D{{Key: "published_at", Value: -1}}).SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, apperrors.Database("query news articles", err)
	}
	defer cursor.Close(ctx)

	var articles []Article
	if err := cursor.All(ctx, &articles); err != nil {
		return nil, apperrors.Database("decode news articles", err)
	}
	return articles, nil
}

// PruneOld removes articles beyond the retention window. Returns the number
// of deleted documents.
func (s *Service) PruneOld(ctx context.Context) (int64, error) {
	if !s.Enabled() {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cutoff := time.Now().UTC().Add(-retention)
	res, err := s.database.Collection(newsCollection).
		DeleteMany(ctx, bson.M{"published_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, apperrors.Database("prune news articles", err)
	}
	return res.DeletedCount, nil
}

// Close disconnects from MongoDB
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	s.connected = false
	return s.client.Disconnect(ctx)
}
