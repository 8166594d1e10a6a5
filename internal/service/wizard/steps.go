package wizard

// Step is the position of a campaign creation conversation.
type Step string

const (
	StepProject            Step = "project"
	StepName               Step = "name"
	StepDescription        Step = "description"
	StepTargetURL          Step = "target_url"
	StepDuration           Step = "duration"
	StepRewardType         Step = "reward_type"
	StepRewardDetails      Step = "reward_details"
	StepRewardRequirement  Step = "reward_requirement"
	StepTargetParticipants Step = "target_participants"
	StepPrivacy            Step = "privacy"
	StepConfirm            Step = "confirm"
)

// transitions lists the steps reachable from each step. Confirm has no successor:
// it either commits and ends the session or stays put.
var transitions = map[Step][]Step{
	StepProject:            {StepName},
	StepName:               {StepDescription},
	StepDescription:        {StepTargetURL},
	StepTargetURL:          {StepDuration},
	StepDuration:           {StepRewardType},
	StepRewardType:         {StepRewardDetails, StepTargetParticipants},
	StepRewardDetails:      {StepRewardRequirement},
	StepRewardRequirement:  {StepRewardType},
	StepTargetParticipants: {StepPrivacy},
	StepPrivacy:            {StepConfirm},
}

// Valid reports whether s is a known step.
func (s Step) Valid() bool {
	if s == StepConfirm {
		return true
	}
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether the conversation may move from one step to another.
func CanTransition(from, to Step) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
