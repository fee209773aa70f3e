/*
Copyright 2024 The KCP Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package v1alpha1 is the wire schema for an entisim configuration
// document: the typed node graph, relationships, presets and pools
// an operator supplies to the engine.
package v1alpha1

// NodeKind discriminates the payload carried by a Node.
type NodeKind string

const (
	KindAttribute NodeKind = "attribute"
	KindVariable  NodeKind = "variable"
	KindContext   NodeKind = "context"
	KindLayer     NodeKind = "layer"
	KindTrait     NodeKind = "trait"
	KindItem      NodeKind = "item" // legacy synonym for KindTrait
	KindModifier  NodeKind = "modifier"
	KindCompound  NodeKind = "compound"
	KindDerived   NodeKind = "derived"
	KindAction    NodeKind = "action"
)

// ChangeMode controls whether a variable drifts on its own under the
// tick loop or only moves when explicitly set/modified.
type ChangeMode string

const (
	ChangeModeManual ChangeMode = "manual"
	ChangeModeTimed  ChangeMode = "timed"
)

// Direction constrains which way a timed variable is allowed to drift.
type Direction string

const (
	DirectionNone       Direction = "none"
	DirectionAccumulate Direction = "accumulate"
	DirectionDeplete    Direction = "deplete"
)

// RollAt controls when a layer is first rolled during spawn.
type RollAt string

const (
	RollAtSpawn  RollAt = "spawn"
	RollAtCreate RollAt = "create"
	RollAtNever  RollAt = "never"
	RollAtManual RollAt = "manual"
)

// SelectionMode is the draw strategy for a layer's trait pool.
type SelectionMode string

const (
	SelectionWeighted     SelectionMode = "weighted"
	SelectionAllMatching  SelectionMode = "allMatching"
	SelectionPickN        SelectionMode = "pickN"
	SelectionFirstMatch   SelectionMode = "firstMatch"
	SelectionThreshold    SelectionMode = "threshold"
)

// DurationType controls how a modifier expires.
type DurationType string

const (
	DurationPermanent DurationType = "permanent"
	DurationTimed     DurationType = "timed"
	DurationTicks     DurationType = "ticks"
	DurationTriggered DurationType = "triggered"
	// legacy: durationType 'manual' normalizes to DurationPermanent.
	DurationManualLegacy DurationType = "manual"
)

// StackingMode controls what happens when a modifier is (re-)applied
// while already present.
type StackingMode string

const (
	StackingIgnore  StackingMode = "ignore"
	StackingRefresh StackingMode = "refresh"
	StackingStack   StackingMode = "stack"
)

// RequirementLogic combines a compound's requires[] set.
type RequirementLogic string

const (
	RequireAll RequirementLogic = "all"
	RequireAny RequirementLogic = "any"
)

// RelationshipType discriminates how a relationship's config is applied.
type RelationshipType string

const (
	RelWeightInfluence RelationshipType = "weight_influence"
	RelRateModifier    RelationshipType = "rate_modifier"
	RelValueModifier   RelationshipType = "value_modifier"
	RelEligibilityGate RelationshipType = "eligibility_gate"
	RelRequires        RelationshipType = "requires"
	RelReplaces        RelationshipType = "replaces"
)

// Operation is the arithmetic applied by a relationship or weight modifier.
type Operation string

const (
	OpAdd      Operation = "add"
	OpMultiply Operation = "multiply"
	OpSet      Operation = "set"
)

// Scaling controls how a relationship's config.value is scaled by the
// source node's current value before the operation is applied.
type Scaling string

const (
	ScalingFlat     Scaling = "flat"
	ScalingPerPoint Scaling = "perPoint"
)

// Node is the tagged-union vertex of the configuration graph. Kind
// selects which of the payload pointers is populated; exactly one
// should be non-nil once the Config Store normalizes the document.
type Node struct {
	ID   string   `json:"id"`
	Kind NodeKind `json:"kind"`

	Attribute *AttributePayload `json:"attribute,omitempty"`
	Variable  *VariablePayload  `json:"variable,omitempty"`
	Context   *ContextPayload   `json:"context,omitempty"`
	Layer     *LayerPayload     `json:"layer,omitempty"`
	Trait     *TraitPayload     `json:"trait,omitempty"`
	Modifier  *ModifierPayload  `json:"modifier,omitempty"`
	Compound  *CompoundPayload  `json:"compound,omitempty"`
	Derived   *DerivedPayload   `json:"derived,omitempty"`
	Action    *ActionPayload    `json:"action,omitempty"`

	// Taxonomy supports preset taxonomyFilter trait resolution
	// (spec.md §4.6): arbitrary tag map matched against filter keys.
	Taxonomy map[string]string `json:"taxonomy,omitempty"`
}

type AttributePayload struct {
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Precision  int     `json:"precision"`
	SpawnOrder int     `json:"spawnOrder"`

	// DefaultRange is the [lo, hi] spawn-roll range. Nil means the
	// config declared no defaultRange at all (the node's own [Min,Max]
	// is used instead); a non-nil [0, 0] is a legitimate "always rolls
	// to exactly 0" declaration. See Float64/FloatRange.
	DefaultRange *[2]float64 `json:"defaultRange,omitempty"`
}

type VariablePayload struct {
	Min        float64    `json:"min"`
	Max        float64    `json:"max"`
	BaseRate   float64    `json:"baseRate"`
	ChangeMode ChangeMode `json:"changeMode"`
	Direction  Direction  `json:"direction"`

	// Initial is the spawn value. Nil means the config didn't declare
	// one (config.Load fills in a default); a non-nil 0 is a legitimate
	// "starts at zero" declaration. See Float64.
	Initial *float64 `json:"initial,omitempty"`
}

type ContextPayload struct {
	Default interface{} `json:"default,omitempty"`
}

type LayerPayload struct {
	Order              int           `json:"order"`
	Selection          LayerSelection `json:"selection"`
	Timing             LayerTiming    `json:"timing"`
	TraitIDs           []string       `json:"traitIds,omitempty"`
	DiminishingReturns bool           `json:"diminishingReturns,omitempty"`
}

type LayerSelection struct {
	BaseWeight   float64 `json:"baseWeight"`
	Mode         SelectionMode `json:"mode"`
	MaxItems     int     `json:"maxItems"`
	InitialRolls int     `json:"initialRolls"`
	WeightFloor  *float64 `json:"weightFloor,omitempty"`
}

type LayerTiming struct {
	RollAt         RollAt `json:"rollAt"`
	RerollAllowed  bool   `json:"rerollAllowed"`
}

// TraitPayload is also used for the legacy "item" kind.
type TraitPayload struct {
	LayerID          string            `json:"layerId"`
	Selection        TraitSelection    `json:"selection"`
	IncompatibleWith []string          `json:"incompatibleWith,omitempty"`
	Eligibility      []Condition       `json:"eligibility,omitempty"`
}

type TraitSelection struct {
	BaseWeight      float64          `json:"baseWeight"`
	Mode            SelectionMode    `json:"mode,omitempty"`
	WeightModifiers []WeightModifier `json:"weightModifiers,omitempty"`
	Trigger         *Condition       `json:"trigger,omitempty"`
	AutoRemove      *Condition       `json:"autoRemove,omitempty"`
	Replaces        []string         `json:"replaces,omitempty"`
}

type WeightModifier struct {
	Condition Condition `json:"condition"`
	Operation Operation `json:"operation"`
	Value     float64   `json:"value"`
}

type ModifierPayload struct {
	DurationType    DurationType    `json:"durationType"`
	Duration        float64         `json:"duration"`
	Stacking        StackingMode    `json:"stacking"`
	MaxStacks       int             `json:"maxStacks"`
	Trigger         ModifierTrigger `json:"trigger"`
	ExclusiveWith   StringList      `json:"exclusiveWith,omitempty"`
}

type ModifierTrigger struct {
	Static           bool        `json:"static,omitempty"`
	Conditions       []Condition `json:"conditions,omitempty"`
	Logic            string      `json:"logic,omitempty"` // all|any, legacy
	RemoveConditions []Condition `json:"removeConditions,omitempty"`
	RemoveLogic      string      `json:"removeLogic,omitempty"`
	// legacy single-target shape; normalized into Conditions by the Config Store.
	Target   string  `json:"target,omitempty"`
	Operator string  `json:"operator,omitempty"`
	Value    float64 `json:"value,omitempty"`
}

type CompoundPayload struct {
	Requires         []Requirement    `json:"requires"`
	RequirementLogic RequirementLogic `json:"requirementLogic"`
}

// Requirement is one entry of a compound's requires[]: a bare id
// reference, an {id, operator, value} threshold, or a nested condition.
type Requirement struct {
	ID        string     `json:"id,omitempty"`
	Operator  string     `json:"operator,omitempty"`
	Value     float64    `json:"value,omitempty"`
	Condition *Condition `json:"condition,omitempty"`
}

type DerivedPayload struct {
	Formula string  `json:"formula"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

type ActionPayload struct {
	BaseWeight   float64            `json:"baseWeight"`
	Cooldown     float64            `json:"cooldown"`
	Costs        map[string]float64 `json:"costs,omitempty"`
	Requirements []Condition        `json:"requirements,omitempty"`
	BlockedBy    []Condition        `json:"blockedBy,omitempty"`
	Eligibility  []Condition        `json:"eligibility,omitempty"`
	Effects      interface{}        `json:"effects,omitempty"`
}

// Relationship connects two nodes with a typed influence.
type Relationship struct {
	SourceID   string           `json:"sourceId"`
	TargetID   string           `json:"targetId"`
	Type       RelationshipType `json:"type"`
	Config     RelationshipConfig `json:"config"`
	Conditions []Condition      `json:"conditions,omitempty"`
}

type RelationshipConfig struct {
	Operation      Operation `json:"operation"`
	Value          float64   `json:"value"`
	Scaling        Scaling   `json:"scaling,omitempty"`
	PerPointSource string    `json:"perPointSource,omitempty"`
	Invert         bool      `json:"invert,omitempty"`
}

// ConditionType discriminates a single condition leaf's target kind.
type ConditionType string

const (
	CondAttribute ConditionType = "attribute"
	CondVariable  ConditionType = "variable"
	CondContext   ConditionType = "context"
	CondTrait     ConditionType = "trait"
	CondModifier  ConditionType = "modifier"
	CondCompound  ConditionType = "compound"
	CondGroup     ConditionType = "group"
)

// Connector folds a leaf into the running boolean result of an
// ordered condition list (spec.md §4.2 form 2).
type Connector string

const (
	ConnectorAND Connector = "AND"
	ConnectorOR  Connector = "OR"
)

// Condition is the algebraic tree node described in spec.md §3. It is
// a single struct (rather than an interface hierarchy, per DESIGN
// NOTES) because exactly one of {All,Any,Not,Type} drives evaluation;
// Condition.Evaluate (pkg/condition) picks the form by field presence.
type Condition struct {
	// Explicit boolean tree form.
	All []Condition `json:"all,omitempty"`
	Any []Condition `json:"any,omitempty"`
	Not *Condition  `json:"not,omitempty"`

	// Ordered-list-with-connectors / legacy logic='all'|'any' form.
	Logic      string    `json:"logic,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
	Connector  Connector `json:"connector,omitempty"`

	// Leaf form.
	Type     ConditionType `json:"type,omitempty"`
	Target   string        `json:"target,omitempty"`
	Operator string        `json:"operator,omitempty"`
	Value    interface{}   `json:"value,omitempty"`
}

// Preset describes a named spawn template.
type Preset struct {
	ID          string                 `json:"id"`
	Attributes  map[string]interface{} `json:"attributes,omitempty"`
	Contexts    map[string]interface{} `json:"contexts,omitempty"`
	ForceTraits []string               `json:"forceTraits,omitempty"`
	Traits      map[string]interface{} `json:"traits,omitempty"`
}

// PoolRuleCondition is one scored condition in a pool's rule set
// (spec.md §4.10 getPoolForEntity).
type PoolRuleCondition struct {
	Source    string  `json:"source"` // preset|trait|attribute|variable|modifier|compound
	Match     string  `json:"match,omitempty"`
	Target    string  `json:"target,omitempty"`
	Operator  string  `json:"operator,omitempty"`
	Value     float64 `json:"value,omitempty"`
	Weight    float64 `json:"weight,omitempty"`
}

type PoolRule struct {
	Priority   int                 `json:"priority"`
	Conditions []PoolRuleCondition `json:"conditions"`
}

type PoolConfig struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	MaxSize          int        `json:"maxSize"`
	PreWarm          int        `json:"preWarm,omitempty"`
	PreWarmPreset    string     `json:"preWarmPreset,omitempty"`
	ShrinkThreshold  float64    `json:"shrinkThreshold,omitempty"`
	ShrinkDelayMS    int64      `json:"shrinkDelayMs,omitempty"`
	Rules            []PoolRule `json:"rules,omitempty"`
}

// Document is the full configuration payload accepted by loadConfig.
type Document struct {
	ID            string         `json:"id"`
	Nodes         []Node         `json:"nodes"`
	Relationships []Relationship `json:"relationships"`
	Presets       []Preset       `json:"presets,omitempty"`
	Pools         []PoolConfig   `json:"pools,omitempty"`
	TickRateMS    int64          `json:"tickRateMs,omitempty"`
	MaxEntities   int            `json:"maxEntities,omitempty"`
	MaxHistory    int            `json:"maxHistory,omitempty"`
}
