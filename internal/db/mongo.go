package db

import (
	"context"
	"net/url"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ConnectToMongo opens the shared match database named by MONGODB_URI.
func ConnectToMongo() (*mongo.Database, context.CancelFunc, error) {
	mongoURI := os.Getenv("MONGODB_URI")

	uri, err := url.Parse(mongoURI)
	if err != nil {
		log.Fatalf("Error parsing MongoDB URI: %v", err)
		return nil, nil, err
	}

	dbName := strings.TrimPrefix(uri.Path, "/")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
	if err != nil {
		log.Fatalf("Error connecting to MongoDB: %v", err)
		cancel()
		return nil, nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		log.Fatalf("Error pinging MongoDB: %v", err)
		cancel()
		return nil, nil, err
	}

	db := client.Database(dbName)

	return db, cancel, nil
}

// EnsureMatchIndexes creates the lookup indexes the match queries rely on:
// phase plus updated_at for staleness sweeps, player seats for rejoin
// lookups.
func EnsureMatchIndexes(db *mongo.Database) {
	collection := db.Collection("matches")

	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "phase", Value: 1}, {Key: "updated_at", Value: 1}}},
		{Keys: bson.D{{Key: "player1_id", Value: 1}}},
		{Keys: bson.D{{Key: "player2_id", Value: 1}}},
	}

	_, err := collection.Indexes().CreateMany(context.TODO(), models)
	if err != nil {
		log.Fatal(err)
	}
}
