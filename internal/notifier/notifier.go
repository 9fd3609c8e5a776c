// Package notifier bridges alarm session state to the presentation layer
// over MQTT and receives dismiss requests from it.
package notifier

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/adilkt16/alarmise/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Presenter receives AlarmSession state changes for rendering. The puzzle
// answer never crosses this boundary.
type Presenter interface {
	SessionStarted(alarmID string, puzzle models.MathPuzzle)
	PuzzleUpdated(alarmID string, puzzle models.MathPuzzle, wrongAnswers int)
	SessionEnded(alarmID string, finalState models.AlarmState, cause string)
}

// DismissHandler receives user-entered answers from the presentation layer.
type DismissHandler func(alarmID string, answer int)

// stateMessage is the JSON payload published on state topics.
type stateMessage struct {
	AlarmID      string `json:"alarm_id"`
	Event        string `json:"event"`
	Question     string `json:"question,omitempty"`
	Difficulty   string `json:"difficulty,omitempty"`
	WrongAnswers int    `json:"wrong_answers,omitempty"`
	FinalState   string `json:"final_state,omitempty"`
	Cause        string `json:"cause,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

// dismissMessage is the JSON payload expected on dismiss topics.
type dismissMessage struct {
	Answer int `json:"answer"`
}

const (
	stateTopicFormat  = "alarmise/alarms/%s/state"
	dismissTopicGlob  = "alarmise/alarms/+/dismiss"
	disconnectQuiesce = 250 // ms
)

// MQTTNotifier publishes session state and subscribes for dismiss requests.
type MQTTNotifier struct {
	client mqtt.Client
	qos    byte
	logger *zap.Logger
}

// NewMQTTNotifier connects to the broker.
func NewMQTTNotifier(broker, clientID, username, password string, qos byte, logger *zap.Logger) (*MQTTNotifier, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	if username != "" {
		opts.SetUsername(username)
	}
	if password != "" {
		opts.SetPassword(password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &MQTTNotifier{client: client, qos: qos, logger: logger}, nil
}

// SubscribeDismiss routes incoming dismiss requests to the handler. The
// alarm id is taken from the topic, the answer from the JSON payload.
func (n *MQTTNotifier) SubscribeDismiss(handler DismissHandler) error {
	token := n.client.Subscribe(dismissTopicGlob, n.qos, func(_ mqtt.Client, msg mqtt.Message) {
		alarmID := alarmIDFromTopic(msg.Topic())
		if alarmID == "" {
			n.logger.Warn("Dismiss message on unparseable topic",
				zap.String("topic", msg.Topic()),
			)
			return
		}

		var dm dismissMessage
		if err := json.Unmarshal(msg.Payload(), &dm); err != nil {
			n.logger.Warn("Invalid dismiss payload",
				zap.String("alarm_id", alarmID),
				zap.Error(err),
			)
			return
		}
		handler(alarmID, dm.Answer)
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe for dismiss requests: %w", token.Error())
	}
	return nil
}

func (n *MQTTNotifier) SessionStarted(alarmID string, puzzle models.MathPuzzle) {
	n.publish(alarmID, stateMessage{
		AlarmID:    alarmID,
		Event:      "active",
		Question:   puzzle.Question,
		Difficulty: string(puzzle.Difficulty),
	})
}

func (n *MQTTNotifier) PuzzleUpdated(alarmID string, puzzle models.MathPuzzle, wrongAnswers int) {
	n.publish(alarmID, stateMessage{
		AlarmID:      alarmID,
		Event:        "puzzle",
		Question:     puzzle.Question,
		Difficulty:   string(puzzle.Difficulty),
		WrongAnswers: wrongAnswers,
	})
}

func (n *MQTTNotifier) SessionEnded(alarmID string, finalState models.AlarmState, cause string) {
	n.publish(alarmID, stateMessage{
		AlarmID:    alarmID,
		Event:      "ended",
		FinalState: string(finalState),
		Cause:      cause,
	})
}

// Close disconnects from the broker.
func (n *MQTTNotifier) Close() {
	n.client.Disconnect(disconnectQuiesce)
}

func (n *MQTTNotifier) publish(alarmID string, msg stateMessage) {
	msg.Timestamp = time.Now().Unix()
	payload, err := json.Marshal(msg)
	if err != nil {
		n.logger.Error("Failed to marshal state message",
			zap.String("alarm_id", alarmID),
			zap.Error(err),
		)
		return
	}

	topic := fmt.Sprintf(stateTopicFormat, alarmID)
	token := n.client.Publish(topic, n.qos, false, payload)
	token.Wait()
	if token.Error() != nil {
		// Presentation delivery is best effort; the alarm keeps sounding.
		n.logger.Error("Failed to publish state message",
			zap.String("topic", topic),
			zap.Error(token.Error()),
		)
	}
}

// alarmIDFromTopic extracts the id from "alarmise/alarms/<id>/dismiss".
func alarmIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "alarmise" || parts[1] != "alarms" || parts[3] != "dismiss" {
		return ""
	}
	return parts[2]
}

var _ Presenter = (*MQTTNotifier)(nil)

// NopPresenter discards all notifications. Used in tests and when no broker
// is configured.
type NopPresenter struct{}

func (NopPresenter) SessionStarted(string, models.MathPuzzle)       {}
func (NopPresenter) PuzzleUpdated(string, models.MathPuzzle, int)   {}
func (NopPresenter) SessionEnded(string, models.AlarmState, string) {}

var _ Presenter = NopPresenter{}
