package models

import "fmt"

// ItemKind distinguishes pull requests from issues
type ItemKind int

const (
	KindIssue ItemKind = iota
	KindPullRequest
)

func (k ItemKind) String() string {
	switch k {
	case KindIssue:
		return "issue"
	case KindPullRequest:
		return "pr"
	default:
		return fmt.Sprintf("ItemKind(%d)", int(k))
	}
}

// ItemState is the remote state of an item
type ItemState int

const (
	StateOpen ItemState = iota
	StateClosed
	StateMerged
)

func (s ItemState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateMerged:
		return "merged"
	default:
		return fmt.Sprintf("ItemState(%d)", int(s))
	}
}

// Terminal reports whether the item is merged or closed
func (s ItemState) Terminal() bool {
	return s == StateClosed || s == StateMerged
}

// ParseItemState maps a remote state string (REST or GraphQL casing) to an ItemState
func ParseItemState(s string) (ItemState, error) {
	switch s {
	case "open", "OPEN":
		return StateOpen, nil
	case "closed", "CLOSED":
		return StateClosed, nil
	case "merged", "MERGED":
		return StateMerged, nil
	default:
		return StateOpen, fmt.Errorf("unknown item state %q", s)
	}
}

// SyncDisposition marks what the last sync pass did to a record
type SyncDisposition int

const (
	DispositionUnchanged SyncDisposition = iota
	DispositionNew
	DispositionUpdated
	DispositionToDelete
)

func (d SyncDisposition) String() string {
	switch d {
	case DispositionUnchanged:
		return "unchanged"
	case DispositionNew:
		return "new"
	case DispositionUpdated:
		return "updated"
	case DispositionToDelete:
		return "to-delete"
	default:
		return fmt.Sprintf("SyncDisposition(%d)", int(d))
	}
}

// Section is the display bucket an item is classified into.
// The numeric values are persisted as the section index.
type Section int

const (
	SectionHidden Section = iota
	SectionMine
	SectionParticipated
	SectionMerged
	SectionClosed
	SectionAll
	SectionSnoozed
)

// AllSections lists every section in display order
var AllSections = []Section{
	SectionMine,
	SectionParticipated,
	SectionMerged,
	SectionClosed,
	SectionAll,
	SectionSnoozed,
	SectionHidden,
}

func (s Section) String() string {
	switch s {
	case SectionHidden:
		return "Hidden"
	case SectionMine:
		return "Mine"
	case SectionParticipated:
		return "Participated"
	case SectionMerged:
		return "Merged"
	case SectionClosed:
		return "Closed"
	case SectionAll:
		return "All"
	case SectionSnoozed:
		return "Snoozed"
	default:
		return fmt.Sprintf("Section(%d)", int(s))
	}
}

// AssignmentPolicy decides where items assigned to the user are shown
type AssignmentPolicy int

const (
	AssignmentMoveToMine AssignmentPolicy = iota
	AssignmentMoveToParticipated
	AssignmentDoNothing
)

// ParseAssignmentPolicy parses the config representation of an AssignmentPolicy
func ParseAssignmentPolicy(s string) (AssignmentPolicy, error) {
	switch s {
	case "", "mine":
		return AssignmentMoveToMine, nil
	case "participated":
		return AssignmentMoveToParticipated, nil
	case "none":
		return AssignmentDoNothing, nil
	default:
		return AssignmentMoveToMine, fmt.Errorf("unknown assignment policy %q", s)
	}
}

// DisplayPolicy limits which sections of a repository's items are visible
type DisplayPolicy int

const (
	DisplayAll DisplayPolicy = iota
	DisplayMineAndParticipated
	DisplayMineOnly
	DisplayHide
)

// ParseDisplayPolicy parses the config representation of a DisplayPolicy
func ParseDisplayPolicy(s string) (DisplayPolicy, error) {
	switch s {
	case "", "all":
		return DisplayAll, nil
	case "mine_and_participated":
		return DisplayMineAndParticipated, nil
	case "mine":
		return DisplayMineOnly, nil
	case "hide":
		return DisplayHide, nil
	default:
		return DisplayAll, fmt.Errorf("unknown display policy %q", s)
	}
}

// HidingPolicy hides items of a repository based on authorship
type HidingPolicy int

const (
	HideNothing HidingPolicy = iota
	HideMyAuthoredPRs
	HideMyAuthoredIssues
	HideAllMyAuthored
	HideOthersPRs
	HideOthersIssues
	HideAllOthers
)

// ParseHidingPolicy parses the config representation of a HidingPolicy
func ParseHidingPolicy(s string) (HidingPolicy, error) {
	switch s {
	case "", "none":
		return HideNothing, nil
	case "my_prs":
		return HideMyAuthoredPRs, nil
	case "my_issues":
		return HideMyAuthoredIssues, nil
	case "mine":
		return HideAllMyAuthored, nil
	case "others_prs":
		return HideOthersPRs, nil
	case "others_issues":
		return HideOthersIssues, nil
	case "others":
		return HideAllOthers, nil
	default:
		return HideNothing, fmt.Errorf("unknown hiding policy %q", s)
	}
}
