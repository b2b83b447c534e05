package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/zhouzirui/pairchat/backend/internal/model/chat"
)

// record is the stored document shape.
type record struct {
	ID         primitive.ObjectID `bson:"_id"`
	SenderID   string             `bson:"senderId"`
	ReceiverID string             `bson:"receiverId"`
	Text       string             `bson:"text"`
	Image      *string            `bson:"image"`
	CreatedAt  time.Time          `bson:"createdAt"`
}

func (r record) toMessage() chat.Message {
	return chat.Message{
		ID:         r.ID.Hex(),
		SenderID:   r.SenderID,
		ReceiverID: r.ReceiverID,
		Text:       r.Text,
		Image:      r.Image,
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

// Store persists messages in a MongoDB collection. Message IDs are ObjectID
// hex strings; ObjectIDs grow with insertion so they break createdAt ties.
type Store struct {
	coll  *mongo.Collection
	clock *chat.Clock
}

// Connect dials uri and verifies the deployment is reachable.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// New wraps coll and ensures the conversation index exists.
func New(ctx context.Context, coll *mongo.Collection) (*Store, error) {
	ix := mongo.IndexModel{
		Keys: bson.D{
			{Key: "senderId", Value: 1},
			{Key: "receiverId", Value: 1},
			{Key: "createdAt", Value: 1},
		},
		Options: options.Index().SetName("conversation_created_idx"),
	}
	if _, err := coll.Indexes().CreateOne(ctx, ix); err != nil {
		return nil, fmt.Errorf("create conversation index: %w", err)
	}
	// Mongo keeps milliseconds only.
	return &Store{coll: coll, clock: chat.NewClock(time.Millisecond)}, nil
}

// Append inserts one document.
func (s *Store) Append(ctx context.Context, draft chat.Draft) (chat.Message, error) {
	doc := record{
		ID:         primitive.NewObjectID(),
		SenderID:   draft.SenderID,
		ReceiverID: draft.ReceiverID,
		Text:       draft.Text,
		Image:      draft.Image,
		CreatedAt:  s.clock.Next(),
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return chat.Message{}, err
	}
	return doc.toMessage(), nil
}

// ListConversation matches both directions of the pair.
func (s *Store) ListConversation(ctx context.Context, pair chat.Pair) ([]chat.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.coll.Find(ctx, conversationFilter(pair), opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	messages := make([]chat.Message, 0)
	for cur.Next(ctx) {
		var r record
		if err := cur.Decode(&r); err != nil {
			return nil, err
		}
		messages = append(messages, r.toMessage())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

func conversationFilter(pair chat.Pair) bson.M {
	return bson.M{
		"$or": bson.A{
			bson.M{"senderId": pair.A, "receiverId": pair.B},
			bson.M{"senderId": pair.B, "receiverId": pair.A},
		},
	}
}
