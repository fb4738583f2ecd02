package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xela07ax/spaceai-automation/internal/domain"
)

// EventCatalogVersion меняется при любом изменении перечня событий.
const EventCatalogVersion = "2024.2"

// EventCatalog — закрытый перечень типов событий, сгруппированный по бизнес-доменам.
type EventCatalog struct {
	version string
	events  map[domain.EventType]domain.EventGroup
}

func NewEventCatalog(version string, groups map[domain.EventGroup][]domain.EventType) (*EventCatalog, error) {
	c := &EventCatalog{version: version, events: make(map[domain.EventType]domain.EventGroup)}
	for g, types := range groups {
		for _, t := range types {
			if t == "" {
				return nil, fmt.Errorf("catalog: empty event type in group %s", g)
			}
			if prev, dup := c.events[t]; dup {
				return nil, fmt.Errorf("catalog: event %s registered in %s and %s", t, prev, g)
			}
			c.events[t] = g
		}
	}
	return c, nil
}

func (c *EventCatalog) Version() string { return c.version }

// Group возвращает группу события; ok=false — событие не распознано.
func (c *EventCatalog) Group(t domain.EventType) (domain.EventGroup, bool) {
	if c == nil {
		return "", false
	}
	g, ok := c.events[t]
	return g, ok
}

func (c *EventCatalog) Known(t domain.EventType) bool {
	_, ok := c.Group(t)
	return ok
}

func (c *EventCatalog) Types() []domain.EventType {
	out := make([]domain.EventType, 0, len(c.events))
	for t := range c.events {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var DefaultEvents = sync.OnceValue(func() *EventCatalog {
	c, err := NewEventCatalog(EventCatalogVersion, map[domain.EventGroup][]domain.EventType{
		domain.GroupFinancialHealth: {
			"financial.invoice_overdue",
			"financial.payment_failed",
			"financial.revenue_dropped",
		},
		domain.GroupCapacityOptimization: {
			"capacity.class_underfilled",
			"capacity.class_overbooked",
			"capacity.room_idle",
		},
		domain.GroupCustomerRetention: {
			"retention.student_at_risk",
			"retention.attendance_dropped",
			"retention.enrollment_expiring",
		},
		domain.GroupGrowthMarketing: {
			"growth.lead_created",
			"growth.lead_inactive",
			"growth.trial_completed",
		},
		domain.GroupSafetyCompliance: {
			"safety.certificate_expiring",
			"safety.incident_reported",
		},
		domain.GroupWorkforceOperations: {
			"workforce.staff_schedule_gap",
			"workforce.task_overdue",
		},
		domain.GroupOperator: {
			"operator.agent_request",
			"operator.scheduled_review",
		},
	})
	if err != nil {
		panic(err)
	}
	return c
})
