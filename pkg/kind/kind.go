package kind

// T is the event kind in the protocol, an integer classifying the semantics
// of the event, including its replaceable/addressable retention behaviour.
// The constants are in a separate package so they read as kind.TextNote
// rather than a long repetitive prefix.
type T uint16

func (ki T) ToInt() int       { return int(ki) }
func (ki T) ToUint16() uint16 { return uint16(ki) }

const (
	// ProfileMetadata is an event type that stores user profile data, pet
	// names, bio, etc. Replaceable.
	ProfileMetadata T = 0
	// TextNote is a standard short text note of plain text.
	TextNote T = 1
	// FollowList is an event containing a list of pubkeys of users followed
	// by the author. Replaceable.
	FollowList T = 3
	// Deletion requests removal of the author's own referenced events.
	Deletion T = 5
	// Reaction is an emoji or +/- response to another event.
	Reaction T = 7
	// GroupChatMessage is a chat message posted into a managed group.
	GroupChatMessage T = 9
	// GroupThread and GroupReply are the threaded variants of group posts.
	GroupThread T = 11
	GroupReply  T = 12
	// GroupAddUser through GroupEditGroupStatus are the group moderation
	// actions; their legitimacy is derived by replaying the group log, not
	// trusted from the relay.
	GroupAddUser          T = 9000
	GroupRemoveUser       T = 9001
	GroupEditMetadata     T = 9002
	GroupAddPermission    T = 9003
	GroupRemovePermission T = 9004
	GroupDeleteEvent      T = 9005
	GroupEditGroupStatus  T = 9006
	// ReplaceableStart marks the beginning of the replaceable kind range.
	ReplaceableStart T = 10000
	// MuteList is a replaceable list of muted pubkeys.
	MuteList T = 10000
	// PinList is a replaceable list of pinned events.
	PinList T = 10001
	// RelayListMetadata is the author's advertised inbox/outbox relay list,
	// consumed by the pool selection policy.
	RelayListMetadata T = 10002
	// ReplaceableEnd marks the end of the replaceable kind range and the
	// start of the ephemeral range.
	ReplaceableEnd T = 20000
	EphemeralStart T = 20000
	// ClientAuthentication is the event kind signed in response to a relay
	// AUTH challenge.
	ClientAuthentication T = 22242
	EphemeralEnd         T = 30000
	// ParameterizedReplaceableStart marks the start of the addressable kind
	// range, where the identity key includes the d tag.
	ParameterizedReplaceableStart T = 30000
	// Article is a long form content event. Addressable.
	Article T = 30023
	// ApplicationSpecificData is arbitrary app data keyed by d tag.
	ApplicationSpecificData T = 30078
	// GroupMetadata, GroupAdmins and GroupMembers are the relay-generated
	// addressable summaries of group state.
	GroupMetadata               T = 39000
	GroupAdmins                 T = 39001
	GroupMembers                T = 39002
	ParameterizedReplaceableEnd T = 40000
)

var Map = map[T]string{
	ProfileMetadata:         "ProfileMetadata",
	TextNote:                "TextNote",
	FollowList:              "FollowList",
	Deletion:                "Deletion",
	Reaction:                "Reaction",
	GroupChatMessage:        "GroupChatMessage",
	GroupThread:             "GroupThread",
	GroupReply:              "GroupReply",
	GroupAddUser:            "GroupAddUser",
	GroupRemoveUser:         "GroupRemoveUser",
	GroupEditMetadata:       "GroupEditMetadata",
	GroupAddPermission:      "GroupAddPermission",
	GroupRemovePermission:   "GroupRemovePermission",
	GroupDeleteEvent:        "GroupDeleteEvent",
	GroupEditGroupStatus:    "GroupEditGroupStatus",
	MuteList:                "MuteList",
	PinList:                 "PinList",
	RelayListMetadata:       "RelayListMetadata",
	ClientAuthentication:    "ClientAuthentication",
	Article:                 "Article",
	ApplicationSpecificData: "ApplicationSpecificData",
	GroupMetadata:           "GroupMetadata",
	GroupAdmins:             "GroupAdmins",
	GroupMembers:            "GroupMembers",
}

func (ki T) String() string {
	if s, ok := Map[ki]; ok {
		return s
	}
	return "Unknown"
}

// IsReplaceable means the store keeps at most one event per (pubkey, kind).
func (ki T) IsReplaceable() bool {
	return ki == ProfileMetadata || ki == FollowList ||
		(ki >= ReplaceableStart && ki < ReplaceableEnd)
}

// IsEphemeral events are relayed but never stored.
func (ki T) IsEphemeral() bool {
	return ki >= EphemeralStart && ki < EphemeralEnd
}

// IsParameterizedReplaceable means the store keeps at most one event per
// (pubkey, kind, d tag).
func (ki T) IsParameterizedReplaceable() bool {
	return ki >= ParameterizedReplaceableStart &&
		ki < ParameterizedReplaceableEnd
}
