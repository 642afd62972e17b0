package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// NotificationMessage is the wire payload consumed by the notification service.
type NotificationMessage struct {
	ID            int             `json:"id"`
	BusinessId    string          `json:"business_id"`
	EventType     string          `json:"event_type"`
	ReferenceType string          `json:"reference_type"`
	ReferenceId   int             `json:"reference_id"`
	Recipients    []int           `json:"recipients"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationId string          `json:"correlation_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

func getPubSubProjectID() string {
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	return os.Getenv("GCP_PROJECT")
}

// GetPubSubClient returns the shared client, creating it on first use.
// It uses Application Default Credentials unless PUBSUB_CREDENTIALS_JSON is provided.
func GetPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		return pubsubClient, nil
	}

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	var (
		c   *pubsub.Client
		err error
	)
	if credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON"); credJSON != "" {
		c, err = pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
	} else {
		c, err = pubsub.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, err
	}
	pubsubClient = c
	logg.WithFields(logrus.Fields{"field": "pubsub", "project_id": projectID}).Info("pubsub client ready")
	return pubsubClient, nil
}

// NotificationTopic is the topic stock events are published to.
func NotificationTopic() string {
	if v := os.Getenv("NOTIFICATION_TOPIC"); v != "" {
		return v
	}
	return "stock-notifications"
}

// PublishNotificationWithResult publishes and returns the Pub/Sub server-assigned message ID.
func PublishNotificationWithResult(ctx context.Context, msg NotificationMessage) (string, error) {
	client, err := GetPubSubClient(ctx)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	result := client.Topic(NotificationTopic()).Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"business_id": msg.BusinessId,
			"event_type":  msg.EventType,
		},
	})
	return result.Get(ctx)
}
