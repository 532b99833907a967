package iot

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/Nurihank/smart-parking-api/internal/domain"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iotdataplane"
)

// SpotChannelPublisher publish phản hồi về kênh cảm biến của một spot.
// Channel là "confirmation" hoặc "warning".
type SpotChannelPublisher interface {
	PublishToSpot(ctx context.Context, spotID int, channel string, payload domain.SpotChannelPayload) error
}

// IoTDataPublisher publish qua AWS IoT Data Plane (MQTT broker phía AWS IoT Core).
type IoTDataPublisher struct {
	client    *iotdataplane.Client
	namespace string
}

func NewIoTDataPublisher(client *iotdataplane.Client, namespace string) *IoTDataPublisher {
	return &IoTDataPublisher{client: client, namespace: namespace}
}

func (p *IoTDataPublisher) PublishToSpot(ctx context.Context, spotID int, channel string, payload domain.SpotChannelPayload) error {
	topic := fmt.Sprintf("%s/spot/%d/%s", p.namespace, spotID, channel)
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("lỗi marshal payload cho topic %s: %w", topic, err)
	}

	log.Printf("IoTDataPublisher: Đang publish '%s' tới topic %s", payload.Status, topic)
	_, err = p.client.Publish(ctx, &iotdataplane.PublishInput{
		Topic:   aws.String(topic),
		Qos:     1,
		Payload: payloadBytes,
	})
	if err != nil {
		return fmt.Errorf("lỗi publish MQTT tới topic %s: %w", topic, err)
	}
	return nil
}

// PublishRaw publish một payload tùy ý, dùng cho endpoint test MQTT.
func (p *IoTDataPublisher) PublishRaw(ctx context.Context, topic string, payload []byte) error {
	_, err := p.client.Publish(ctx, &iotdataplane.PublishInput{
		Topic:   aws.String(topic),
		Qos:     1,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("lỗi publish MQTT tới topic %s: %w", topic, err)
	}
	return nil
}
