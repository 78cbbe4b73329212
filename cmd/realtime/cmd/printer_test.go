package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/realtime/pkg/realtime/channel"
	"github.com/tsarna/realtime/pkg/realtime/protocol"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func printAll(t *testing.T, p *messagePrinter, channel string, msgs ...*protocol.Message) []string {
	t.Helper()
	out := p.out.(*bytes.Buffer)
	out.Reset()
	h := p.handler(channel)
	for _, m := range msgs {
		require.NoError(t, h(m))
	}
	s := strings.TrimSuffix(out.String(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestPrinterPlain(t *testing.T) {
	p, err := newMessagePrinter(&bytes.Buffer{}, zaptest.NewLogger(t), "", "")
	require.NoError(t, err)

	lines := printAll(t, p, "orders",
		protocol.NewMessage("created", map[string]any{"id": float64(1)}),
		protocol.NewMessage("note", "plain text"),
		protocol.NewMessage("price", "9.5"),
		protocol.NewMessage("empty", nil),
	)

	assert.Equal(t, []string{
		"orders\tcreated\t{\"id\":1}",
		"orders\tnote\t\"plain text\"",
		"orders\tprice\t9.5",
		"orders\tempty\tnull",
	}, lines)
}

func TestPrinterFilter(t *testing.T) {
	p, err := newMessagePrinter(&bytes.Buffer{}, nil, "temperature/#", "")
	require.NoError(t, err)

	lines := printAll(t, p, "sensors",
		protocol.NewMessage("temperature/kitchen", 21.5),
		protocol.NewMessage("humidity/kitchen", 40),
		protocol.NewMessage("temperature/attic/north", 12),
	)

	assert.Equal(t, []string{
		"sensors\ttemperature/kitchen\t21.5",
		"sensors\ttemperature/attic/north\t12",
	}, lines)
}

func TestPrinterJq(t *testing.T) {
	t.Run("variables", func(t *testing.T) {
		p, err := newMessagePrinter(&bytes.Buffer{}, nil, "temperature/+room", `{room: $fields.room, value: .value, channel: $channel, name: $name}`)
		require.NoError(t, err)

		lines := printAll(t, p, "sensors", protocol.NewMessage("temperature/kitchen", map[string]any{"value": 21.5}))
		assert.Equal(t, []string{
			"sensors\ttemperature/kitchen\t{\"channel\":\"sensors\",\"name\":\"temperature/kitchen\",\"room\":\"kitchen\",\"value\":21.5}",
		}, lines)
	})

	t.Run("no result drops the message", func(t *testing.T) {
		p, err := newMessagePrinter(&bytes.Buffer{}, nil, "", `select(.active)`)
		require.NoError(t, err)

		lines := printAll(t, p, "users",
			protocol.NewMessage("login", map[string]any{"active": true}),
			protocol.NewMessage("login", map[string]any{"active": false}),
		)
		assert.Equal(t, []string{"users\tlogin\t{\"active\":true}"}, lines)
	})

	t.Run("multiple results become an array", func(t *testing.T) {
		p, err := newMessagePrinter(&bytes.Buffer{}, nil, "", `.[]`)
		require.NoError(t, err)

		lines := printAll(t, p, "c", protocol.NewMessage("n", []any{float64(1), float64(2)}))
		assert.Equal(t, []string{"c\tn\t[1,2]"}, lines)
	})

	t.Run("runtime errors pass the payload through", func(t *testing.T) {
		core, logs := observer.New(zapcore.ErrorLevel)
		p, err := newMessagePrinter(&bytes.Buffer{}, zap.New(core), "", `.x + 1`)
		require.NoError(t, err)

		lines := printAll(t, p, "c", protocol.NewMessage("n", map[string]any{"x": "text"}))
		assert.Equal(t, []string{"c\tn\t{\"x\":\"text\"}"}, lines)
		assert.Equal(t, 1, logs.FilterMessage("JQ execution error").Len())
	})

	t.Run("invalid query", func(t *testing.T) {
		_, err := newMessagePrinter(&bytes.Buffer{}, nil, "", `{`)
		assert.ErrorContains(t, err, "failed to parse JQ query")

		_, err = newMessagePrinter(&bytes.Buffer{}, nil, "", `$unknown`)
		assert.ErrorContains(t, err, "failed to compile JQ query")
	})
}

func TestParseData(t *testing.T) {
	assert.Equal(t, float64(25.5), parseData("25.5"))
	assert.Equal(t, map[string]any{"user": "alice"}, parseData(`{"user":"alice"}`))
	assert.Equal(t, "Server maintenance scheduled", parseData("Server maintenance scheduled"))
}

func TestLoadConfig(t *testing.T) {
	defer func() { configPath = "" }()

	cfg, err := loadConfig("ws://localhost:8080/realtime")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/realtime", cfg.URL)

	_, err = loadConfig(urlArg("-"))
	assert.ErrorContains(t, err, "url is required")

	configPath = "missing.hcl"
	_, err = loadConfig("ws://localhost/")
	assert.Error(t, err)
}

func TestLogChannelEvents(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ch := channel.New("orders", nil)
	require.NoError(t, logChannelEvents(ch, zap.New(core)))

	require.NoError(t, ch.TransitionTo(channel.StateAttaching))
	require.NoError(t, ch.TransitionTo(channel.StateAttached))
	require.NoError(t, ch.EmitError(protocol.NewErrorInfo("denied", 40160, 401)))

	entries := logs.FilterMessage("Event received").All()
	require.Len(t, entries, 3)
	assert.Equal(t, "channel orders", entries[0].ContextMap()["handler"])
	assert.Equal(t, "attaching", entries[0].ContextMap()["event"])
	assert.Equal(t, "attached", entries[1].ContextMap()["event"])
	assert.Equal(t, "error", entries[2].ContextMap()["event"])
}
