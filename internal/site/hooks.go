package site

// Action identifies a site operation for hook dispatch and the
// operation log.
type Action int

const (
	ActionDeposit Action = iota
	ActionWithdraw
	ActionBorrow
	ActionRepay
	ActionLiquidate
	ActionFlashLiquidate
	ActionResolution
	ActionDistribute
	actionCount
)

func (a Action) String() string {
	switch a {
	case ActionDeposit:
		return "deposit"
	case ActionWithdraw:
		return "withdraw"
	case ActionBorrow:
		return "borrow"
	case ActionRepay:
		return "repay"
	case ActionLiquidate:
		return "liquidate"
	case ActionFlashLiquidate:
		return "flash_liquidate"
	case ActionResolution:
		return "resolution"
	case ActionDistribute:
		return "distribute"
	default:
		return "unknown"
	}
}

// ActionSet is a set of actions a hook subscribes to.
type ActionSet map[Action]struct{}

// NewActionSet builds a set from the given actions.
func NewActionSet(actions ...Action) ActionSet {
	s := make(ActionSet, len(actions))
	for _, a := range actions {
		s[a] = struct{}{}
	}
	return s
}

// AllActions subscribes to every action.
func AllActions() ActionSet {
	s := make(ActionSet, int(actionCount))
	for a := Action(0); a < actionCount; a++ {
		s[a] = struct{}{}
	}
	return s
}

// Contains reports membership.
func (s ActionSet) Contains(a Action) bool {
	_, ok := s[a]
	return ok
}

// HookStage says whether the hook fires before or after the operation
// mutates state.
type HookStage int

const (
	StageBefore HookStage = iota
	StageAfter
)

func (s HookStage) String() string {
	if s == StageBefore {
		return "before"
	}
	return "after"
}

// HookEvent carries the operation context to hooks. After-stage events on
// failed operations carry the error; before-stage events never do.
type HookEvent struct {
	Stage  HookStage
	Action Action
	Site   string
	User   string
	Asset  AssetKind
	Amount int64
	Err    error
}

// Hook observes site operations. Dispatch is synchronous on the
// operation's goroutine; hooks must not call back into the site.
type Hook interface {
	Actions() ActionSet
	OnEvent(HookEvent)
}

// hookSet fans events out to registered hooks.
type hookSet struct {
	hooks []Hook
}

func (h *hookSet) register(hook Hook) {
	h.hooks = append(h.hooks, hook)
}

func (h *hookSet) dispatch(ev HookEvent) {
	for _, hook := range h.hooks {
		if hook.Actions().Contains(ev.Action) {
			hook.OnEvent(ev)
		}
	}
}
