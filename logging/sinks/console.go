package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"flagfall/server/logging"
)

// ConsoleSink renders events as single operator-readable lines:
//
//	INFO  chat      frame=120 player:17 > room:f0a1 chat.accepted {"chars":12}
//
// Columns are severity, category, frame counter, actor, targets, the
// event type, and the JSON payload.
type ConsoleSink struct {
	logger *log.Logger
	color  bool
}

func NewConsoleSink(w io.Writer, cfg logging.ConsoleConfig) *ConsoleSink {
	return &ConsoleSink{
		logger: log.New(w, "", log.LstdFlags),
		color:  cfg.UseColor,
	}
}

func (s *ConsoleSink) Write(event logging.Event) error {
	if s.logger == nil {
		return nil
	}
	var line strings.Builder
	line.WriteString(s.severityTag(event.Severity))
	fmt.Fprintf(&line, " %-9s frame=%d %s", categoryTag(event.Category), event.Tick, refTag(event.Actor))
	if len(event.Targets) > 0 {
		parts := make([]string, 0, len(event.Targets))
		for _, target := range event.Targets {
			parts = append(parts, refTag(target))
		}
		line.WriteString(" > ")
		line.WriteString(strings.Join(parts, ","))
	}
	fmt.Fprintf(&line, " %s", event.Type)
	if event.Payload != nil {
		if data, err := json.Marshal(event.Payload); err == nil {
			line.WriteByte(' ')
			line.Write(data)
		} else {
			fmt.Fprintf(&line, " %v", event.Payload)
		}
	}
	s.logger.Print(line.String())
	return nil
}

func (s *ConsoleSink) Close(context.Context) error {
	return nil
}

const (
	ansiReset  = "\x1b[0m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
)

func (s *ConsoleSink) severityTag(sev logging.Severity) string {
	switch sev {
	case logging.SeverityDebug:
		return "DEBUG"
	case logging.SeverityWarn:
		if s.color {
			return ansiYellow + "WARN " + ansiReset
		}
		return "WARN "
	case logging.SeverityError:
		if s.color {
			return ansiRed + "ERROR" + ansiReset
		}
		return "ERROR"
	default:
		return "INFO "
	}
}

func categoryTag(category string) string {
	if category == "" {
		return logging.CategorySystem
	}
	return category
}

// refTag renders an entity as kind:id. Session ids, room uuids, and
// addresses are all short enough to read inline.
func refTag(ref logging.EntityRef) string {
	kind := string(ref.Kind)
	if kind == "" {
		kind = string(logging.EntityKindUnknown)
	}
	if ref.ID == "" {
		return kind
	}
	return kind + ":" + ref.ID
}
