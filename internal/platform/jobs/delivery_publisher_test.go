package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/planvault/api/internal/services"
)

func newTestTopic(t *testing.T) (*pubsub.Topic, *pstest.Server) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	ctx := context.Background()
	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "delivery-notices")
	if err != nil {
		t.Fatalf("create topic: %v", err)
	}
	t.Cleanup(topic.Stop)

	return topic, srv
}

func TestPubSubDeliveryPublisherSendDeliveryNotice(t *testing.T) {
	topic, srv := newTestTopic(t)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	publisher, err := NewPubSubDeliveryPublisher(PubSubDeliveryPublisherConfig{
		Topic:            topic,
		DefaultLocale:    "en-US",
		SupportedLocales: []string{"ja-JP", "de-DE"},
		Clock:            func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	notice := services.DeliveryNotice{
		Recipient:           "buyer@example.com",
		Locale:              "en-US",
		ListingTitle:        "Bracket v2",
		OrderID:             "ord_1",
		RedemptionReference: "dl_abc",
		ExpiresAt:           now.Add(72 * time.Hour),
	}
	if err := publisher.SendDeliveryNotice(context.Background(), notice); err != nil {
		t.Fatalf("send delivery notice: %v", err)
	}

	msgs := srv.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}

	var payload deliveryNoticePayload
	if err := json.Unmarshal(msgs[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Recipient != "buyer@example.com" {
		t.Fatalf("unexpected recipient %q", payload.Recipient)
	}
	if payload.OrderID != "ord_1" {
		t.Fatalf("unexpected order id %q", payload.OrderID)
	}
	if payload.RedemptionReference != "dl_abc" {
		t.Fatalf("unexpected redemption reference %q", payload.RedemptionReference)
	}
	if payload.Locale != "en-US" {
		t.Fatalf("unexpected locale %q", payload.Locale)
	}
	if !payload.PublishedAt.Equal(now) {
		t.Fatalf("unexpected published at %s", payload.PublishedAt)
	}
	if msgs[0].Attributes["orderId"] != "ord_1" {
		t.Fatalf("unexpected orderId attribute %q", msgs[0].Attributes["orderId"])
	}
	if msgs[0].Attributes["locale"] != "en-US" {
		t.Fatalf("unexpected locale attribute %q", msgs[0].Attributes["locale"])
	}
}

func TestPubSubDeliveryPublisherMatchesBuyerLocale(t *testing.T) {
	topic, srv := newTestTopic(t)

	publisher, err := NewPubSubDeliveryPublisher(PubSubDeliveryPublisherConfig{
		Topic:            topic,
		DefaultLocale:    "en-US",
		SupportedLocales: []string{"ja-JP", "de-DE"},
	})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	cases := []struct {
		name   string
		locale string
		want   string
	}{
		{name: "exact match", locale: "ja-JP", want: "ja-JP"},
		{name: "base language match", locale: "ja", want: "ja-JP"},
		{name: "unsupported falls back", locale: "fr-FR", want: "en-US"},
		{name: "garbage falls back", locale: "not-a-locale!!", want: "en-US"},
		{name: "empty falls back", locale: "", want: "en-US"},
	}

	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			notice := services.DeliveryNotice{
				Recipient:           "buyer@example.com",
				Locale:              tc.locale,
				OrderID:             "ord_1",
				RedemptionReference: "dl_abc",
			}
			if err := publisher.SendDeliveryNotice(context.Background(), notice); err != nil {
				t.Fatalf("send delivery notice: %v", err)
			}

			msgs := srv.Messages()
			if len(msgs) != i+1 {
				t.Fatalf("expected %d messages, got %d", i+1, len(msgs))
			}
			var payload deliveryNoticePayload
			if err := json.Unmarshal(msgs[i].Data, &payload); err != nil {
				t.Fatalf("unmarshal payload: %v", err)
			}
			if payload.Locale != tc.want {
				t.Fatalf("locale %q resolved to %q, want %q", tc.locale, payload.Locale, tc.want)
			}
		})
	}
}

func TestPubSubDeliveryPublisherValidation(t *testing.T) {
	topic, _ := newTestTopic(t)

	if _, err := NewPubSubDeliveryPublisher(PubSubDeliveryPublisherConfig{}); err == nil {
		t.Fatal("expected error for missing topic")
	}
	if _, err := NewPubSubDeliveryPublisher(PubSubDeliveryPublisherConfig{
		Topic:         topic,
		DefaultLocale: "not a locale",
	}); err == nil {
		t.Fatal("expected error for invalid default locale")
	}
	if _, err := NewPubSubDeliveryPublisher(PubSubDeliveryPublisherConfig{
		Topic:            topic,
		SupportedLocales: []string{"??"},
	}); err == nil {
		t.Fatal("expected error for invalid supported locale")
	}

	publisher, err := NewPubSubDeliveryPublisher(PubSubDeliveryPublisherConfig{Topic: topic})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	err = publisher.SendDeliveryNotice(context.Background(), services.DeliveryNotice{OrderID: "ord_1"})
	if err == nil {
		t.Fatal("expected error for missing recipient")
	}
}
