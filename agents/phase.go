package agents

// Mode selects between the single reasoning stage and the four-stage
// pipeline.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeMulti  Mode = "multi"
)

// Well-known agent ids. The multi-stage order below is authoritative for
// both the simulated cadence and display ordering.
const (
	AgentAssistant   = "assistant"
	AgentResearcher  = "researcher"
	AgentAnalyst     = "analyst"
	AgentCritic      = "critic"
	AgentSynthesizer = "synthesizer"
)

var multiAgents = []string{AgentResearcher, AgentAnalyst, AgentCritic, AgentSynthesizer}

// AgentsFor returns the ordered agent ids participating in a run of the
// given mode. The returned slice is a copy.
func AgentsFor(mode Mode) []string {
	if mode == ModeMulti {
		ids := make([]string, len(multiAgents))
		copy(ids, multiAgents)
		return ids
	}
	return []string{AgentAssistant}
}
