package database

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

var (
	newFirebaseApp  = firebase.NewApp
	firestoreClient = func(ctx context.Context, app *firebase.App) (*firestore.Client, error) {
		return app.Firestore(ctx)
	}
)

// FirestoreDB holds the Firebase Admin Firestore client.
type FirestoreDB struct {
	Client *firestore.Client
}

// NewFirestoreDB initializes the Firebase app for projectID. Without a
// credentials file the SDK falls back to application default credentials,
// which also picks up FIRESTORE_EMULATOR_HOST.
func NewFirestoreDB(projectID, credentialsFile string) (*FirestoreDB, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	app, err := newFirebaseApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing firebase app: %w", err)
	}

	client, err := firestoreClient(context.Background(), app)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &FirestoreDB{Client: client}, nil
}

func (f *FirestoreDB) Close() error {
	if f.Client != nil {
		return f.Client.Close()
	}
	return nil
}
