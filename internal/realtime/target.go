package realtime

import "fmt"

type TargetKind int

const (
	TargetAll TargetKind = iota
	TargetUser
	TargetChannel
)

func (k TargetKind) String() string {
	switch k {
	case TargetAll:
		return "all"
	case TargetUser:
		return "user"
	case TargetChannel:
		return "channel"
	}
	return fmt.Sprintf("TargetKind(%d)", int(k))
}

// Target selects who receives a dispatch.
type Target struct {
	Kind TargetKind
	Key  string
}

func All() Target                { return Target{Kind: TargetAll} }
func User(id string) Target      { return Target{Kind: TargetUser, Key: id} }
func Channel(name string) Target { return Target{Kind: TargetChannel, Key: name} }

// UserGroup returns the personal group key of a user.
func UserGroup(userID string) string {
	return "user:" + userID
}

// GroupKey is the membership group a target resolves through. Empty for All.
func (t Target) GroupKey() string {
	switch t.Kind {
	case TargetUser:
		return UserGroup(t.Key)
	case TargetChannel:
		return t.Key
	}
	return ""
}

func (t Target) String() string {
	if t.Kind == TargetAll {
		return "all"
	}
	return t.Kind.String() + ":" + t.Key
}
