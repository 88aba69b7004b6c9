package bus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/natsserver"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
)

func TestPublishJSONThroughEmbeddedServer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.BusConfig{
		Enabled:        true,
		Embedded:       true,
		Port:           -1,
		StoreDir:       t.TempDir(),
		ConnectTimeout: 2000,
	}
	srv, err := natsserver.Start(cfg, logger)
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	defer srv.Shutdown()

	cfg.Servers = []string{srv.ClientURL()}
	client, err := Connect(context.Background(), "scribe-test", cfg, logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	if !client.Healthy() {
		t.Fatal("expected healthy connection")
	}
	if err := client.EnsureStream(protocol.SubjectTranscriptFinal); err != nil {
		t.Fatalf("ensure stream: %v", err)
	}
	if err := client.EnsureStream(protocol.SubjectTranscriptFinal); err != nil {
		t.Fatalf("ensure stream twice: %v", err)
	}

	sub, err := client.Conn().SubscribeSync(protocol.SubjectTranscriptFinal)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.PublishJSON(protocol.SubjectTranscriptFinal, protocol.Transcript{ArtifactID: "a", Text: "hello"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	var got protocol.Transcript
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Text != "hello" || got.ArtifactID != "a" {
		t.Fatalf("unexpected transcript %+v", got)
	}
}

func TestConnectRequiresServers(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := Connect(context.Background(), "x", config.BusConfig{}, logger); err == nil {
		t.Fatal("expected error without servers")
	}
}
