package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/joao-fontenele/virtual-store/internal/domain"
)

func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100).
		SetMinPoolSize(10)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	return client.Database(database), nil
}

type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{collection: db.Collection("carts")}
}

// CreateIndexes makes user_id the natural key of the collection.
func (s *MongoStore) CreateIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create cart indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) LoadByUserID(ctx context.Context, userID string) (*domain.Cart, error) {
	var cart domain.Cart

	err := s.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("find cart: %w", err)
	}

	return &cart, nil
}

func (s *MongoStore) Create(ctx context.Context, cart *domain.Cart) error {
	cart.Version = 1

	_, err := s.collection.InsertOne(ctx, cart)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert cart: %w", err)
	}

	return nil
}

func (s *MongoStore) AppendProduct(ctx context.Context, cartID string, version int64, item domain.CartItem) error {
	filter := bson.M{
		"_id":                 cartID,
		"version":             version,
		"products.product_id": bson.M{"$ne": item.ProductID},
	}
	update := bson.M{
		"$push": bson.M{"products": item},
		"$inc":  bson.M{"version": 1},
	}

	return s.swap(ctx, filter, update)
}

func (s *MongoStore) UpdateQuantity(ctx context.Context, cartID string, version int64, productID string, quantity int) error {
	filter := bson.M{
		"_id":                 cartID,
		"version":             version,
		"products.product_id": productID,
	}
	update := bson.M{
		"$set": bson.M{"products.$.quantity": quantity},
		"$inc": bson.M{"version": 1},
	}

	return s.swap(ctx, filter, update)
}

// ReplaceProducts keeps the cart document so its version keeps growing, even
// when products is empty.
func (s *MongoStore) ReplaceProducts(ctx context.Context, cartID string, version int64, products []domain.CartItem) error {
	if products == nil {
		products = []domain.CartItem{}
	}
	filter := bson.M{
		"_id":     cartID,
		"version": version,
	}
	update := bson.M{
		"$set": bson.M{"products": products},
		"$inc": bson.M{"version": 1},
	}

	return s.swap(ctx, filter, update)
}

func (s *MongoStore) swap(ctx context.Context, filter, update bson.M) error {
	result, err := s.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("update cart: %w", err)
	}

	if result.MatchedCount == 0 {
		return ErrConflict
	}

	return nil
}
