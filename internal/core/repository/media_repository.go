package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"fleettrack/internal/core/model"
)

type MediaRepository interface {
	Create(file *model.MediaFile) error
	FindByID(id string) (*model.MediaFile, error)
	FindByDeviceID(deviceID string, limit int) ([]*model.MediaFile, error)
	FindByAlarm(deviceID string, alarmID uint32) ([]*model.MediaFile, error)
}

type MongoMediaRepository struct {
	collection *mongo.Collection
}

func NewMongoMediaRepository(db *mongo.Database) *MongoMediaRepository {
	return &MongoMediaRepository{
		collection: db.Collection("media"),
	}
}

func (r *MongoMediaRepository) Create(file *model.MediaFile) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := r.collection.InsertOne(ctx, file)
	return err
}

func (r *MongoMediaRepository) FindByID(id string) (*model.MediaFile, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var file model.MediaFile
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&file)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	return &file, err
}

func (r *MongoMediaRepository) FindByDeviceID(deviceID string, limit int) ([]*model.MediaFile, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.M{"uploadedAt": -1})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := r.collection.Find(ctx, bson.M{"deviceId": deviceID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var files []*model.MediaFile
	if err = cursor.All(ctx, &files); err != nil {
		return nil, err
	}
	return files, nil
}

func (r *MongoMediaRepository) FindByAlarm(deviceID string, alarmID uint32) ([]*model.MediaFile, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cursor, err := r.collection.Find(ctx, bson.M{"deviceId": deviceID, "alarmId": alarmID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var files []*model.MediaFile
	if err = cursor.All(ctx, &files); err != nil {
		return nil, err
	}
	return files, nil
}
