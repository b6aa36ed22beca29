package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Topic layout. Health and warnings are published; the trigger topics are
// subscribed and dispatched to the pipeline.
const (
	topicHealthFmt      = "fuacs/cameras/%s/health"
	topicWarnings       = "fuacs/events/warnings"
	topicRefreshSub     = "fuacs/enrollments/refresh"
	topicFinalizeSub    = "fuacs/slots/finalize"
	topicReplaySub      = "fuacs/events/replay"
	disconnectQuiesceMS = 250
)

// TriggerHandlers receive external trigger messages. Handlers run on paho's
// callback goroutine; long work must be handed off by the callee.
type TriggerHandlers struct {
	OnEnrollmentRefresh func()
	OnSlotFinalize      func(slotID string)
	OnEventReplay       func()
}

// Bus is the optional MQTT side channel: camera health and delivery
// warnings out, pipeline triggers in. An empty broker URL yields a disabled
// bus whose publishes are no-ops, so the pipeline never depends on a broker
// being present.
type Bus struct {
	client  mqtt.Client
	enabled bool
}

// Disabled returns a no-op bus
func Disabled() *Bus {
	return &Bus{}
}

// Connect dials the broker and installs the trigger subscriptions. The
// subscriptions are re-established by the OnConnect hook after every
// reconnect.
func Connect(brokerURL, clientID string, handlers TriggerHandlers) (*Bus, error) {
	if brokerURL == "" {
		return Disabled(), nil
	}

	opts := mqtt.NewClientOptions().AddBroker(brokerURL).SetClientID(clientID)
	opts.SetKeepAlive(10 * time.Second)
	opts.SetPingTimeout(5 * time.Second)
	opts.SetConnectTimeout(30 * time.Second)
	opts.SetAutoReconnect(true)

	opts.OnConnect = func(c mqtt.Client) {
		log.Printf("messaging: connected to MQTT broker %s", brokerURL)

		c.Subscribe(topicRefreshSub, 0, func(c mqtt.Client, m mqtt.Message) {
			log.Println("messaging: enrollment refresh trigger received")
			if handlers.OnEnrollmentRefresh != nil {
				handlers.OnEnrollmentRefresh()
			}
		}).Wait()

		c.Subscribe(topicFinalizeSub, 0, func(c mqtt.Client, m mqtt.Message) {
			var req struct {
				SlotID string `json:"slot_id"`
			}
			if err := json.Unmarshal(m.Payload(), &req); err != nil || req.SlotID == "" {
				log.Printf("messaging: ignoring malformed finalize trigger: %s", string(m.Payload()))
				return
			}
			log.Printf("messaging: finalize trigger received for slot %s", req.SlotID)
			if handlers.OnSlotFinalize != nil {
				handlers.OnSlotFinalize(req.SlotID)
			}
		}).Wait()

		c.Subscribe(topicReplaySub, 0, func(c mqtt.Client, m mqtt.Message) {
			log.Println("messaging: event replay trigger received")
			if handlers.OnEventReplay != nil {
				handlers.OnEventReplay()
			}
		}).Wait()
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		log.Printf("messaging: MQTT connection lost: %v", err)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("messaging: failed to connect to MQTT broker %s: %w", brokerURL, token.Error())
	}

	return &Bus{client: client, enabled: true}, nil
}

// PublishCameraHealth reports a camera health transition
func (b *Bus) PublishCameraHealth(cameraID, state string, timestamp int64) {
	if !b.enabled {
		return
	}
	payload, err := json.Marshal(map[string]interface{}{
		"camera_id": cameraID,
		"state":     state,
		"timestamp": timestamp,
	})
	if err != nil {
		log.Printf("messaging: failed to encode health payload: %v", err)
		return
	}
	b.client.Publish(fmt.Sprintf(topicHealthFmt, cameraID), 0, false, payload)
}

// PublishDeliveryWarning reports an event whose delivery retries were
// exhausted and which is now spooled
func (b *Bus) PublishDeliveryWarning(eventUUID, identityID, cameraID, detail string) {
	if !b.enabled {
		return
	}
	payload, err := json.Marshal(map[string]string{
		"event_uuid":  eventUUID,
		"identity_id": identityID,
		"camera_id":   cameraID,
		"detail":      detail,
	})
	if err != nil {
		log.Printf("messaging: failed to encode warning payload: %v", err)
		return
	}
	b.client.Publish(topicWarnings, 0, false, payload)
}

// Close disconnects from the broker
func (b *Bus) Close() {
	if !b.enabled {
		return
	}
	b.client.Disconnect(disconnectQuiesceMS)
	log.Println("messaging: disconnected from MQTT broker")
}
