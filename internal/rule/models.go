package rule

import (
	"time"
)

type LogicOperator string

const (
	LogicAnd LogicOperator = "and"
	LogicOr  LogicOperator = "or"
)

func (op LogicOperator) Valid() bool {
	return op == LogicAnd || op == LogicOr
}

// Operator is the closed set of condition comparators. Which subset applies
// depends on the sensor kind; the evaluator enforces that exhaustively.
type Operator string

const (
	OpGreater        Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpLess           Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpEqual          Operator = "=="
	OpNotEqual       Operator = "!="
	OpBetween        Operator = "between"
	OpContains       Operator = "contains"
	OpIsOneOf        Operator = "isOneOf"
	OpUpdatedWithin  Operator = "updatedWithin"
)

func (op Operator) Valid() bool {
	switch op {
	case OpGreater, OpGreaterOrEqual, OpLess, OpLessOrEqual,
		OpEqual, OpNotEqual, OpBetween, OpContains, OpIsOneOf, OpUpdatedWithin:
		return true
	}
	return false
}

// Numeric reports whether the operator compares numbers and therefore
// requires a numeric comparison value.
func (op Operator) Numeric() bool {
	switch op {
	case OpGreater, OpGreaterOrEqual, OpLess, OpLessOrEqual, OpBetween:
		return true
	}
	return false
}

// EffectiveAt is the scheduling window of a rule: date range, weekday set
// and time-of-day range, all interpreted in the rule's timezone. Date and
// time ranges may wrap (DateFrom after DateTo crosses the year boundary,
// TimeFrom after TimeTo crosses midnight).
type EffectiveAt struct {
	TimeZone string `json:"timezone" bson:"timezone"`
	DateFrom string `json:"date_from" bson:"date_from"` // "MM-DD"
	DateTo   string `json:"date_to" bson:"date_to"`
	Weekdays []int  `json:"weekdays" bson:"weekdays"` // ISO 1 (Mon) .. 7 (Sun)
	TimeFrom string `json:"time_from" bson:"time_from"` // "HH:mm"
	TimeTo   string `json:"time_to" bson:"time_to"`
}

type Condition struct {
	SensorID string   `json:"sensor_id" bson:"sensor_id"`
	Operator Operator `json:"operator" bson:"operator"`
	Value    string   `json:"value" bson:"value"`
}

// Trigger binds one condition group to a set of candidate devices. The
// trigger is satisfied when any one device satisfies the group.
type Trigger struct {
	DeviceType string        `json:"device_type" bson:"device_type"`
	DeviceIDs  []string      `json:"device_ids" bson:"device_ids"`
	Logic      LogicOperator `json:"logic,omitempty" bson:"logic,omitempty"`
	Conditions []Condition   `json:"conditions" bson:"conditions"`
}

type ActionType string

const (
	ActionDevice ActionType = "device"
	ActionNotify ActionType = "notify"
)

// Action is a two-variant union. Exactly one of Device or Notify is set,
// matching Type.
type Action struct {
	Type   ActionType    `json:"type" bson:"type"`
	Device *DeviceAction `json:"device,omitempty" bson:"device,omitempty"`
	Notify *NotifyAction `json:"notify,omitempty" bson:"notify,omitempty"`
}

type DeviceAction struct {
	DeviceType string   `json:"device_type" bson:"device_type"`
	DeviceIDs  []string `json:"device_ids" bson:"device_ids"`
	SensorID   string   `json:"sensor_id" bson:"sensor_id"`
	Value      string   `json:"value" bson:"value"`
}

// NotifyAction delivers a rendered message to users. The template supports
// {{time}}, {{expression}} and {{currentValue}} placeholders.
type NotifyAction struct {
	Template       string   `json:"template" bson:"template"`
	AttachSnapshot bool     `json:"attach_snapshot" bson:"attach_snapshot"`
	UserIDs        []string `json:"user_ids" bson:"user_ids"`
}

type Rule struct {
	ID          string        `json:"id" bson:"_id,omitempty"`
	Name        string        `json:"name" bson:"name"`
	GroupID     string        `json:"group_id" bson:"group_id"`
	Enabled     bool          `json:"enabled" bson:"enabled"`
	EffectiveAt EffectiveAt   `json:"effective_at" bson:"effective_at"`
	Logic       LogicOperator `json:"logic,omitempty" bson:"logic,omitempty"`
	Triggers    []Trigger     `json:"if" bson:"if"`
	Actions     []Action      `json:"then" bson:"then"`
	CreatedAt   time.Time     `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" bson:"updated_at"`
}

// NotifyUserIDs returns the union of user IDs across all notify actions.
func (r *Rule) NotifyUserIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, action := range r.Actions {
		if action.Type != ActionNotify || action.Notify == nil {
			continue
		}
		for _, id := range action.Notify.UserIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Subscription is a per-(rule, user) delivery preference. Defaults are
// derived from the user's channel-connection state when the notify action
// is authored.
type Subscription struct {
	RuleID    string    `json:"rule_id" bson:"rule_id"`
	UserID    string    `json:"user_id" bson:"user_id"`
	ByMessage bool      `json:"by_message" bson:"by_message"`
	ByEmail   bool      `json:"by_email" bson:"by_email"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

type UpdateRuleRequest struct {
	Name        *string        `json:"name"`
	Enabled     *bool          `json:"enabled"`
	EffectiveAt *EffectiveAt   `json:"effective_at"`
	Logic       *LogicOperator `json:"logic"`
	Triggers    *[]Trigger     `json:"if"`
	Actions     *[]Action      `json:"then"`
}
