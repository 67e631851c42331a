package infra

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/magabrotheeeer/community-billing/internal/events"
)

func TestNewPublisher_WithoutBrokerRecords(t *testing.T) {
	pub := newPublisher(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.IsType(t, &events.Recorder{}, pub)
}
