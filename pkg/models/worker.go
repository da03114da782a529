package models

// Provider identifies which backend serves a worker's model. The set is
// closed: classification patterns and pricing rules differ per provider, so
// each case is handled exhaustively rather than through an open interface.
type Provider string

const (
	// ProviderAnthropic serves Claude models through the claude CLI.
	ProviderAnthropic Provider = "anthropic"
	// ProviderOpenAI serves GPT models through a compatible CLI.
	ProviderOpenAI Provider = "openai"
	// ProviderLocal is a locally hosted model or native computation.
	ProviderLocal Provider = "local"
)

// Valid returns true if the provider is a known value.
func (p Provider) Valid() bool {
	switch p {
	case ProviderAnthropic, ProviderOpenAI, ProviderLocal:
		return true
	default:
		return false
	}
}

// Role describes a worker's function within a roster.
type Role string

const (
	// RoleMember is a regular voting roster member.
	RoleMember Role = "member"
	// RoleAnchor is a higher-capability member whose output anchors synthesis.
	RoleAnchor Role = "anchor"
	// RoleAggregator merges member outputs instead of producing its own.
	RoleAggregator Role = "aggregator"
)

// Valid returns true if the role is a known value.
func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleAnchor, RoleAggregator:
		return true
	default:
		return false
	}
}

// Worker describes one AI-backed worker identity in a roster.
type Worker struct {
	// Name is the roster-local label for this worker (e.g. "sonnet-a").
	Name string `json:"name" yaml:"name"`
	// Provider is the backend serving this worker.
	Provider Provider `json:"provider" yaml:"provider"`
	// Model is the concrete model identifier.
	Model string `json:"model" yaml:"model"`
	// Command is the executable invoked for this worker.
	Command string `json:"command" yaml:"command"`
	// Args is the argument vector template. The {prompt} placeholder is
	// replaced inline for small payloads and dropped when the payload is
	// delivered over stdin.
	Args []string `json:"args" yaml:"args"`
	// Role is the worker's function within the roster.
	Role Role `json:"role" yaml:"role"`
}

// Endpoint returns the breaker identity for this worker. Breakers are shared
// per provider/model pair, not per roster entry.
func (w Worker) Endpoint() string {
	return string(w.Provider) + "/" + w.Model
}

// Roster is the set of workers assigned to one stage fan-out.
type Roster struct {
	// Tier is the routing bucket this roster was resolved from.
	Tier Tier `json:"tier"`
	// Workers are the voting members in canonical order.
	Workers []Worker `json:"workers"`
}

// Size returns the number of voting members.
func (r Roster) Size() int {
	return len(r.Workers)
}

// RosterTable maps tiers to roster compositions. The mapping is data, not
// code: new tiers or compositions need no logic changes.
type RosterTable map[Tier][]Worker

// Resolve returns the roster for a tier, false when the table has none.
func (t RosterTable) Resolve(tier Tier) (Roster, bool) {
	workers, ok := t[tier]
	if !ok || len(workers) == 0 {
		return Roster{}, false
	}
	return Roster{Tier: tier, Workers: append([]Worker{}, workers...)}, true
}
