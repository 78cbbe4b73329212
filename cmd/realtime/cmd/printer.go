package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/amir-yaghoubi/mqttpattern"
	"github.com/itchyny/gojq"
	"github.com/tsarna/realtime/pkg/realtime/protocol"
	"go.uber.org/zap"
)

// messagePrinter writes received messages as "channel<TAB>name<TAB>json"
// lines. Messages whose name does not match the name pattern are skipped.
//
// A jq query, if given, replaces the payload with its result. The query can
// use $channel, $name and $fields, the values captured by named wildcards
// in the pattern ("sensor/+id/#" puts the second level in $fields.id).
// Multiple results are printed as an array; no result drops the message.
type messagePrinter struct {
	out     io.Writer
	logger  *zap.Logger
	pattern string
	query   *gojq.Code

	mu sync.Mutex
}

func newMessagePrinter(out io.Writer, logger *zap.Logger, pattern, jqQuery string) (*messagePrinter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &messagePrinter{out: out, logger: logger, pattern: pattern}
	if jqQuery == "" {
		return p, nil
	}

	query, err := gojq.Parse(jqQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JQ query '%s': %w", jqQuery, err)
	}
	p.query, err = gojq.Compile(query, gojq.WithVariables([]string{"$channel", "$name", "$fields"}))
	if err != nil {
		return nil, fmt.Errorf("failed to compile JQ query '%s': %w", jqQuery, err)
	}
	return p, nil
}

// handler returns a message subscriber for one channel.
func (p *messagePrinter) handler(channel string) func(*protocol.Message) error {
	return func(msg *protocol.Message) error {
		p.print(channel, msg)
		return nil
	}
}

func (p *messagePrinter) print(channel string, msg *protocol.Message) {
	fields := map[string]any{}
	if p.pattern != "" {
		if !mqttpattern.Matches(p.pattern, msg.Name) {
			return
		}
		if mqttpattern.HasExtractions(p.pattern) {
			for k, v := range mqttpattern.Extract(p.pattern, msg.Name) {
				fields[k] = v
			}
		}
	}

	payload, keep := p.transform(channel, msg, fields)
	if !keep {
		return
	}

	jsonBytes, err := json.Marshal(payload)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		fmt.Fprintf(p.out, "%s\t%s\t<error marshaling JSON: %v>\n", channel, msg.Name, err)
		p.logger.Warn("Failed to marshal message to JSON",
			zap.String("channel", channel),
			zap.String("name", msg.Name),
			zap.Error(err))
		return
	}
	fmt.Fprintf(p.out, "%s\t%s\t%s\n", channel, msg.Name, jsonBytes)
}

func (p *messagePrinter) transform(channel string, msg *protocol.Message, fields map[string]any) (any, bool) {
	input := jqInput(msg.Data)
	if p.query == nil {
		return input, true
	}

	iter := p.query.RunWithContext(context.Background(), input, channel, msg.Name, fields)

	var results []any
	for {
		result, ok := iter.Next()
		if !ok {
			break
		}
		if execErr, ok := result.(error); ok {
			p.logger.Error("JQ execution error",
				zap.String("channel", channel),
				zap.String("name", msg.Name),
				zap.Error(execErr))
			return input, true
		}
		results = append(results, result)
	}

	switch len(results) {
	case 0:
		return nil, false
	case 1:
		return results[0], true
	default:
		return results, true
	}
}

// jqInput converts a decoded payload into the value types gojq accepts.
// Strings holding JSON are parsed.
func jqInput(data any) any {
	switch v := data.(type) {
	case nil:
		return nil
	case string:
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err == nil {
			return parsed
		}
		return v
	case []byte:
		var parsed any
		if err := json.Unmarshal(v, &parsed); err == nil {
			return parsed
		}
		return string(v)
	case map[string]any, []any, bool, float64, int:
		return v
	default:
		jsonBytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		var parsed any
		if err := json.Unmarshal(jsonBytes, &parsed); err != nil {
			return fmt.Sprint(v)
		}
		return parsed
	}
}
