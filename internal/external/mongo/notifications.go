package loyalty

import (
	"context"
	"fmt"
	"time"

	model "github.com/glkeru/washloyalty/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// NotificationArchive - архив уведомлений для экранов клиента
type NotificationArchive struct {
	mgo  *mongo.Client
	coll *mongo.Collection
}

func NewNotificationArchive(uri string, database string) (*NotificationArchive, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if uri == "" {
		return nil, fmt.Errorf("mongo uri is not set")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	err = client.Ping(ctx, nil)
	if err != nil {
		return nil, err
	}
	coll := client.Database(database).Collection("notifications")
	return &NotificationArchive{client, coll}, nil
}

func (a *NotificationArchive) Name() string { return "mongo" }

// повторная доставка того же уведомления не создает дубль
func (a *NotificationArchive) Publish(ctx context.Context, n model.Notification) error {
	filter := bson.M{"id": n.ID}
	_, err := a.coll.ReplaceOne(ctx, filter, n, options.Replace().SetUpsert(true))
	return err
}

func (a *NotificationArchive) Close(ctx context.Context) error {
	return a.mgo.Disconnect(ctx)
}
