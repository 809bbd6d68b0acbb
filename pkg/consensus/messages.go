package consensus

// Kind discriminates the wire-level message envelope. Dispatch is by
// exhaustive match on Kind (spec.md §9: "the wire-level msg is a
// discriminated union ... Dispatch by exhaustive match").
type Kind int

const (
	KindPropose Kind = iota
	KindVote
	KindQC
	KindNewView
)

func (k Kind) String() string {
	switch k {
	case KindPropose:
		return "PROPOSE"
	case KindVote:
		return "VOTE"
	case KindQC:
		return "QC"
	case KindNewView:
		return "NEWVIEW"
	default:
		return "UNKNOWN"
	}
}

// Message is the tagged envelope carried over the network. Exactly
// one of the payload fields is populated, selected by Kind.
type Message struct {
	Kind Kind
	From ID

	Block   Block // KindPropose
	Vote    Vote  // KindVote
	QC      QC    // KindQC
	NewView NewView
}

// NewView carries a replica's best known QC when its view times out.
// HighQC is nil when the replica has not yet seen any QC.
type NewView struct {
	View   View
	HighQC *QC
}

func ProposeMsg(from ID, b Block) Message {
	return Message{Kind: KindPropose, From: from, Block: b}
}

func VoteMsg(from ID, v Vote) Message {
	return Message{Kind: KindVote, From: from, Vote: v}
}

func QCMsg(from ID, qc QC) Message {
	return Message{Kind: KindQC, From: from, QC: qc}
}

func NewViewMsg(from ID, view View, highQC *QC) Message {
	return Message{Kind: KindNewView, From: from, NewView: NewView{View: view, HighQC: highQC}}
}
