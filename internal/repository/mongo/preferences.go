package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"telestream/internal/domain"
)

type mediaPreferencesDoc struct {
	ID                  string  `bson:"_id"` // media id
	AudioTrackIndex     int     `bson:"audioTrackIndex"`
	SubtitlesEnabled    bool    `bson:"subtitlesEnabled"`
	SubtitleTrackIndex  int     `bson:"subtitleTrackIndex"`
	ManualOffsetSeconds float64 `bson:"manualOffsetSeconds"`
	UpdatedAt           int64   `bson:"updatedAt"`
}

// PreferencesRepository persists per-media playback choices, one document per
// media id, upserted wholesale.
type PreferencesRepository struct {
	collection *mongo.Collection
}

func NewPreferencesRepository(client *mongo.Client, dbName string) *PreferencesRepository {
	return &PreferencesRepository{collection: client.Database(dbName).Collection("media_preferences")}
}

func (r *PreferencesRepository) Get(ctx context.Context, id domain.MediaID) (domain.MediaPreferences, bool, error) {
	var doc mediaPreferencesDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.MediaPreferences{}, false, nil
		}
		return domain.MediaPreferences{}, false, err
	}
	return prefsDocToDomain(doc), true, nil
}

func (r *PreferencesRepository) Put(ctx context.Context, prefs domain.MediaPreferences) error {
	update := bson.M{
		"$set": bson.M{
			"audioTrackIndex":     prefs.AudioTrackIndex,
			"subtitlesEnabled":    prefs.SubtitlesEnabled,
			"subtitleTrackIndex":  prefs.SubtitleTrackIndex,
			"manualOffsetSeconds": prefs.ManualOffsetSeconds,
			"updatedAt":           time.Now().Unix(),
		},
	}
	_, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": string(prefs.MediaID)},
		update,
		options.Update().SetUpsert(true),
	)
	return err
}

func prefsDocToDomain(doc mediaPreferencesDoc) domain.MediaPreferences {
	return domain.MediaPreferences{
		MediaID:             domain.MediaID(doc.ID),
		AudioTrackIndex:     doc.AudioTrackIndex,
		SubtitlesEnabled:    doc.SubtitlesEnabled,
		SubtitleTrackIndex:  doc.SubtitleTrackIndex,
		ManualOffsetSeconds: doc.ManualOffsetSeconds,
		UpdatedAt:           time.Unix(doc.UpdatedAt, 0).UTC(),
	}
}
