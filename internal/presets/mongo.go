package presets

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gopkg.in/yaml.v3"

	"github.com/valpere/Importexter/internal/config"
	"github.com/valpere/Importexter/internal/utils"
)

// presetDocument is the stored form. The source is kept as YAML so the
// document matches what operators edit on disk.
type presetDocument struct {
	ID         string    `bson:"_id"`
	Domain     string    `bson:"domain"`
	Name       string    `bson:"name"`
	Definition string    `bson:"definition"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

func documentID(domain, name string) string {
	return domain + "/" + name
}

func toDocument(p *Preset) (*presetDocument, error) {
	data, err := yaml.Marshal(p.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal preset source: %w", err)
	}
	return &presetDocument{
		ID:         documentID(p.Domain, p.Name),
		Domain:     p.Domain,
		Name:       p.Name,
		Definition: string(data),
		UpdatedAt:  p.UpdatedAt,
	}, nil
}

func fromDocument(doc *presetDocument) (*Preset, error) {
	src := &config.Source{}
	if err := yaml.Unmarshal([]byte(doc.Definition), src); err != nil {
		return nil, fmt.Errorf("failed to decode preset %s: %w", doc.ID, err)
	}
	config.ApplyDefaults(src)
	return &Preset{Domain: doc.Domain, Name: doc.Name, Source: src, UpdatedAt: doc.UpdatedAt}, nil
}

// MongoOptions configures the MongoDB repository.
type MongoOptions struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

// MongoRepository stores presets in a MongoDB collection.
type MongoRepository struct {
	client     *mongo.Client
	collection *mongo.Collection
	timeout    time.Duration
	logger     utils.Logger
}

// NewMongoRepository connects and ensures the domain index exists.
func NewMongoRepository(ctx context.Context, opts MongoOptions) (*MongoRepository, error) {
	if opts.URI == "" {
		return nil, fmt.Errorf("MongoDB connection string is required")
	}
	if opts.Database == "" {
		opts.Database = "importexter"
	}
	if opts.Collection == "" {
		opts.Collection = "presets"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(opts.URI).
		SetServerSelectionTimeout(opts.Timeout).
		SetConnectTimeout(opts.Timeout)
	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	collection := client.Database(opts.Database).Collection(opts.Collection)
	_, err = collection.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "domain", Value: 1}, {Key: "name", Value: 1}},
		Options: options.Index().SetName("domain_name"),
	})
	if err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create preset index: %w", err)
	}

	logger := utils.NewComponentLogger("presets-mongo")
	logger.Infof("connected to MongoDB database %s, collection %s", opts.Database, opts.Collection)
	return &MongoRepository{client: client, collection: collection, timeout: opts.Timeout, logger: logger}, nil
}

func (r *MongoRepository) Save(ctx context.Context, p *Preset) error {
	if err := Normalize(p); err != nil {
		return err
	}
	doc, err := toDocument(p)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err = r.collection.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save preset %s: %w", doc.ID, err)
	}
	return nil
}

func (r *MongoRepository) FindByDomain(ctx context.Context, domain string) ([]*Preset, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cursor, err := r.collection.Find(ctx,
		bson.M{"domain": NormalizeDomain(domain)},
		options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query presets: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*Preset
	for cursor.Next(ctx) {
		var doc presetDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode preset: %w", err)
		}
		p, err := fromDocument(&doc)
		if err != nil {
			r.logger.Warnf("skipping preset: %v", err)
			continue
		}
		out = append(out, p)
	}
	return out, cursor.Err()
}

// Ping checks the connection.
func (r *MongoRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (r *MongoRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
