package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/treasury_backend/config"
	"bitbucket.org/mmdatafocus/treasury_backend/models"
	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RefreshPubSubPayload is the message body scheduled jobs publish to trigger
// an unattended refresh.
type RefreshPubSubPayload struct {
	Trigger     string `json:"trigger"`
	RequestedBy string `json:"requestedBy,omitempty"`
}

// PubSubPushEnvelope is the wrapper Google Pub/Sub wraps around pushed
// messages.
type PubSubPushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes"`
		MessageId  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func PublishRefreshRun(ctx context.Context, trigger string, requestedBy string) error {
	topicName := strings.TrimSpace(os.Getenv("DATA_REFRESH_TOPIC"))
	if topicName == "" {
		topicName = "data-refresh"
	}

	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}

	topic := client.Topic(topicName)
	if envBoolDefault("DATA_REFRESH_CREATE_TOPIC", false) {
		topic, err = config.CreateTopicIfNotExists(client, topicName)
		if err != nil {
			return err
		}
	}

	payload := RefreshPubSubPayload{Trigger: trigger, RequestedBy: requestedBy}
	data, _ := json.Marshal(payload)
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

// PubSubPushHandler starts a refresh when Cloud Scheduler pushes a message.
// The endpoint always acknowledges with 204: a refresh already in flight is
// not an error worth redelivering, and malformed messages would loop forever.
func PubSubPushHandler(orchestrator *Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !config.RefreshPubSubTriggerEnabled() {
			c.Status(204)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(204)
			return
		}

		var payload RefreshPubSubPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.Status(204)
			return
		}
		if payload.Trigger == "" {
			c.Status(204)
			return
		}

		db := config.GetDB()
		if db == nil {
			c.Status(204)
			return
		}

		var systemUser *models.User
		txErr := db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
			u, err := models.GetOrCreateSystemUser(tx)
			if err != nil {
				return err
			}
			systemUser = u
			return nil
		})
		if txErr != nil {
			config.LogError(config.GetLogger(), "refresh", "PubSubPushHandler", "system user", payload, txErr)
			c.Status(204)
			return
		}

		_, err = orchestrator.Start(c.Request.Context(), systemUser.ID, systemUser.DisplayName)
		if err != nil {
			var conflict *AlreadyRunningError
			if !errors.As(err, &conflict) {
				config.LogError(config.GetLogger(), "refresh", "PubSubPushHandler", "start", payload, err)
			}
		}
		c.Status(204)
	}
}

func envBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
