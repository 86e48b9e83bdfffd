package followup

// ResolutionKind tags the outcome of scenario resolution.
type ResolutionKind int

const (
	// ResolveNoChange leaves the lead's automation untouched.
	ResolveNoChange ResolutionKind = iota
	// ResolveTransition moves the lead into Resolution.Scenario.
	ResolveTransition
	// ResolveManualOverride cancels all automation: a human took over.
	ResolveManualOverride
)

// Resolution is the tagged outcome of resolving an inbound event.
type Resolution struct {
	Kind     ResolutionKind
	Scenario Scenario
	Reason   string
}

// ResolveInput carries everything the resolver inspects. The caller
// performs the ledger and task lookups; resolution itself is pure.
type ResolveInput struct {
	// BusinessAuthored is true for events written on the business side of
	// the conversation.
	BusinessAuthored bool
	// SelfSent is true when a business-authored text matches a ledger
	// record this system delivered.
	SelfSent bool
	// PhoneOptIn is true for the dedicated phone opt-in event type.
	PhoneOptIn bool
	// PhoneFound is true when the event text contains a phone number.
	PhoneFound bool
	// PhoneTasksActive is true when PhoneAvailable tasks are already
	// active for the lead.
	PhoneTasksActive bool
}

// Resolve decides what an inbound event means for the lead's automation.
//
// Tie-break order: manual override first, then phone-number presence, then
// reply detection. First match wins.
func Resolve(in ResolveInput) Resolution {
	if in.BusinessAuthored {
		if !in.SelfSent {
			return Resolution{
				Kind:   ResolveManualOverride,
				Reason: "operator message not authored by automation",
			}
		}
		// Echo of our own delivery coming back through the platform.
		return Resolution{Kind: ResolveNoChange}
	}

	if in.PhoneFound {
		return Resolution{
			Kind:     ResolveTransition,
			Scenario: ScenarioPhoneAvailable,
			Reason:   "phone number detected in message",
		}
	}

	if in.PhoneOptIn {
		// Opt-in without a number collapses back to NoPhone semantics.
		return Resolution{
			Kind:     ResolveTransition,
			Scenario: ScenarioNoPhone,
			Reason:   "phone opt-in without number",
		}
	}

	if !in.PhoneTasksActive {
		return Resolution{
			Kind:     ResolveTransition,
			Scenario: ScenarioNoPhone,
			Reason:   "customer replied",
		}
	}

	return Resolution{Kind: ResolveNoChange}
}
