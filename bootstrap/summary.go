package bootstrap

import (
	"context"
	"sort"
	"time"

	"github.com/kbukum/taskflow/component"
	"github.com/kbukum/taskflow/logger"
)

// Entry is one line of the startup summary.
type Entry struct {
	Section string
	Name    string
	Detail  string
}

// Summary collects what a service set up so it can be logged once at
// startup.
type Summary struct {
	serviceName     string
	version         string
	startupDuration time.Duration
	entries         []Entry
}

func NewSummary(serviceName, version string) *Summary {
	return &Summary{serviceName: serviceName, version: version}
}

func (s *Summary) SetStartupDuration(d time.Duration) { s.startupDuration = d }

// Add records a line under section, e.g. Add("routes", "POST /v1/tasks", "").
func (s *Summary) Add(section, name, detail string) {
	s.entries = append(s.entries, Entry{Section: section, Name: name, Detail: detail})
}

// Entries returns the recorded lines grouped by section, in insertion order
// within each section.
func (s *Summary) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Section < out[j].Section })
	return out
}

// Display logs the summary together with the health of every component.
func (s *Summary) Display(ctx context.Context, reg *component.Registry, log *logger.Logger) {
	log.Info("startup summary", logger.Fields(
		"service", s.serviceName,
		"version", s.version,
		"startup", s.startupDuration.Round(time.Millisecond).String(),
	))
	for _, h := range reg.HealthAll(ctx) {
		fields := logger.Fields(logger.FieldComponent, h.Name, logger.FieldStatus, string(h.Status))
		if h.Message != "" {
			fields["message"] = h.Message
		}
		log.Info("component", fields)
	}
	for _, e := range s.Entries() {
		fields := logger.Fields("section", e.Section, "name", e.Name)
		if e.Detail != "" {
			fields["detail"] = e.Detail
		}
		log.Info("configured", fields)
	}
}
