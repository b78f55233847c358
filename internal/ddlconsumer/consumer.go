// Package ddlconsumer runs the long-lived task that drains DDL
// event-notification messages from the engine's Service Broker queue on the
// primary, applying each to the replica.
package ddlconsumer

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/siddontang/loggers"
	"github.com/sirupsen/logrus"

	"github.com/mssqlsync/syncd/internal/state"
)

const receiveTimeout = 5 * time.Second

// Consumer issues WAITFOR (RECEIVE ...) against the DDL event queue through
// the primary pool. Each receive borrows a pooled connection for its
// duration; no connection is reserved for the consumer between receives.
type Consumer struct {
	Primary *sql.DB
	Replica *sql.DB
	State   *state.TableState
	Logger  loggers.Advanced
	Queue   string
}

// New returns a Consumer. logger may be nil, in which case a default
// logrus logger is used.
func New(primary, replica *sql.DB, st *state.TableState, queue string, logger loggers.Advanced) *Consumer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Consumer{Primary: primary, Replica: replica, State: st, Queue: queue, Logger: logger}
}

// Event is one extracted DDL notification.
type Event struct {
	CommandText string
	EventType   string
	ObjectName  string
}

// Run loops WAITFOR (RECEIVE TOP(1) ...) against Queue with a 5-second
// timeout until ctx is cancelled. Any receive error causes a 5-second
// sleep before retrying the outer loop.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		messageType, payload, err := c.receive(ctx)
		if err != nil {
			c.Logger.Warnf("ddl consumer receive failed, retrying: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(receiveTimeout):
			}
			continue
		}
		if payload == "" {
			continue // timed out with no message
		}
		if messageType != eventNotificationMessageType {
			continue
		}

		event, err := ExtractEvent(payload)
		if err != nil {
			c.Logger.Warnf("could not extract ddl event: %v", err)
			continue
		}
		c.apply(ctx, event)
	}
}

const eventNotificationMessageType = "http://schemas.microsoft.com/SQL/Notifications/EventNotification"

// receive issues one WAITFOR (RECEIVE TOP(1) ...) against Queue, returning
// an empty payload (no error) on timeout.
func (c *Consumer) receive(ctx context.Context) (messageType, payload string, err error) {
	query := fmt.Sprintf(
		`WAITFOR (RECEIVE TOP(1) message_type_name, CAST(message_body AS NVARCHAR(MAX)) FROM %s), TIMEOUT %d`,
		c.Queue, receiveTimeout.Milliseconds())
	row := c.Primary.QueryRowContext(ctx, query)
	if err := row.Scan(&messageType, &payload); err != nil {
		if err == sql.ErrNoRows {
			return "", "", nil
		}
		return "", "", err
	}
	return messageType, payload, nil
}

func (c *Consumer) apply(ctx context.Context, event Event) {
	effectiveName := event.ObjectName
	enabled, err := c.State.Enabled(ctx, effectiveName)
	if err != nil {
		c.Logger.Warnf("checking enabled state for %s: %v", effectiveName, err)
		return
	}
	if !enabled {
		return
	}
	if _, err := c.Replica.ExecContext(ctx, event.CommandText); err != nil {
		c.Logger.Warnf("applying ddl to %s failed: %v", effectiveName, err)
		return
	}
	c.Logger.Infof("applied ddl to %s: %s", effectiveName, event.CommandText)
}

// ExtractEvent pulls <CommandText>, <EventType>, <ObjectName>, and an
// optional <TargetObjectName> out of an event-notification XML payload by
// literal substring search, deliberately not using a general XML parser.
// When a TargetObjectName element is present (column rename, index
// create/alter), it becomes the effective ObjectName.
func ExtractEvent(xmlPayload string) (Event, error) {
	commandText, err := extractElement(xmlPayload, "CommandText")
	if err != nil {
		return Event{}, err
	}
	eventType, err := extractElement(xmlPayload, "EventType")
	if err != nil {
		return Event{}, err
	}
	objectName, err := extractElement(xmlPayload, "ObjectName")
	if err != nil {
		return Event{}, err
	}
	if target, err := extractElement(xmlPayload, "TargetObjectName"); err == nil {
		objectName = target
	}
	return Event{
		CommandText: xmlUnescape(commandText),
		EventType:   eventType,
		ObjectName:  objectName,
	}, nil
}

func extractElement(xmlPayload, tag string) (string, error) {
	open := "<" + tag + ">"
	closeTag := "</" + tag + ">"
	start := strings.Index(xmlPayload, open)
	if start == -1 {
		return "", fmt.Errorf("no <%s> element in payload", tag)
	}
	start += len(open)
	end := strings.Index(xmlPayload[start:], closeTag)
	if end == -1 {
		return "", fmt.Errorf("unterminated <%s> element in payload", tag)
	}
	return xmlPayload[start : start+end], nil
}

var xmlEntities = []struct{ entity, literal string }{
	{"&lt;", "<"},
	{"&gt;", ">"},
	{"&quot;", `"`},
	{"&apos;", "'"},
	{"&amp;", "&"}, // must be last: decoding it earlier would turn "&amp;lt;" into "&lt;" and then into "<"
}

func xmlUnescape(s string) string {
	for _, e := range xmlEntities {
		s = strings.ReplaceAll(s, e.entity, e.literal)
	}
	return s
}
