package publish_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/pricepulse/shopcrawler/internal/catalog"
	"github.com/pricepulse/shopcrawler/internal/publish"
)

func TestRecordSinkPublishesRecords(t *testing.T) {
	ctx := context.Background()

	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close()

	topic, err := client.CreateTopic(ctx, "products")
	require.NoError(t, err)

	sub, err := client.CreateSubscription(ctx, "products-sub", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	pub := publish.NewPubSubPublisherWithTopic(client, topic, nil)
	sink := publish.NewRecordSink(pub)

	rec := catalog.ProductRecord{
		ArticleNo: "0714790001",
		Title:     "Slim Fit Jeans",
		Currency:  "EUR",
		Market:    "de_de",
		Division:  "Ladies",
		ListPrice: 29.99,
		ScrapedAt: time.Unix(1700000000, 0).UTC(),
	}
	require.NoError(t, sink.Write(ctx, []catalog.ProductRecord{rec}))

	msgCh := make(chan *pubsub.Message, 1)
	recvCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	go func() {
		_ = sub.Receive(recvCtx, func(_ context.Context, msg *pubsub.Message) {
			msg.Ack()
			select {
			case msgCh <- msg:
			default:
			}
			cancel()
		})
	}()

	select {
	case msg := <-msgCh:
		var got catalog.ProductRecord
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, rec.ArticleNo, got.ArticleNo)
		assert.Equal(t, "de_de", msg.Attributes["market"])
		assert.Equal(t, "Ladies", msg.Attributes["division"])
	case <-recvCtx.Done():
		t.Fatal("timed out waiting for published record")
	}

	assert.NoError(t, pub.Close())
}

func TestNoopPublisher(t *testing.T) {
	var pub publish.NoopPublisher
	require.NoError(t, pub.Publish(context.Background(), []byte("x"), nil))
	require.NoError(t, pub.Close())
}
